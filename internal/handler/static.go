package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// PageHandler serves the static account pages. "/reset-password" resolves to
// reset-password.html so the link in reset emails needs no extension, and
// unknown paths fall back to the index page. Nothing under /api/ is served.
type PageHandler struct {
	staticDir string
	indexFile string
}

func NewPageHandler(staticDir string) *PageHandler {
	return &PageHandler{
		staticDir: staticDir,
		indexFile: "index.html",
	}
}

func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath == "/api" || strings.HasPrefix(urlPath, "/api/") {
		http.NotFound(w, r)
		return
	}

	if urlPath != "/" {
		rel := filepath.FromSlash(strings.TrimPrefix(urlPath, "/"))
		for _, candidate := range []string{rel, rel + ".html"} {
			if h.serveFile(w, r, filepath.Join(h.staticDir, candidate)) {
				return
			}
		}
	}

	if !h.serveFile(w, r, filepath.Join(h.staticDir, h.indexFile)) {
		http.NotFound(w, r)
	}
}

func (h *PageHandler) serveFile(w http.ResponseWriter, r *http.Request, filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeFile(w, r, filePath)
	return true
}
