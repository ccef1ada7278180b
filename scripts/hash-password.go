package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/formauth/auth-server-go/internal/util"
)

// Prints a bcrypt hash for seeding an account by hand:
//
//	go run scripts/hash-password.go <password> [cost]
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go <password> [cost]\n")
		os.Exit(1)
	}

	password := os.Args[1]
	if problem := util.PasswordProblem(password); problem != "" {
		fmt.Fprintf(os.Stderr, "Error: password %s\n", problem)
		os.Exit(1)
	}

	cost := 12
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid cost %q\n", os.Args[2])
			os.Exit(1)
		}
		cost = n
	}

	hash, err := util.HashPassword(password, cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
