package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/auth"
	"github.com/joho/godotenv"
)

const ttl = 24 * time.Hour

// usage: generate-token [operator-id] [email] [role]
func main() {
	godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Println("JWT_SECRET is not set")
		os.Exit(1)
	}

	operatorID := "local-operator"
	email := "operator@example.com"
	role := auth.RoleOperator

	if len(os.Args) > 1 {
		operatorID = os.Args[1]
	}
	if len(os.Args) > 2 {
		email = os.Args[2]
	}
	if len(os.Args) > 3 {
		r, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Printf("Invalid role %q: %v\n", os.Args[3], err)
			os.Exit(1)
		}
		role = r
	}

	token, err := auth.NewJWTValidator(secret).IssueToken(operatorID, email, role, ttl)
	if err != nil {
		fmt.Printf("Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "operator=%s role=%d expires=%s\n", operatorID, role, time.Now().Add(ttl).Format(time.RFC3339))
}
