package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/roadscope/rs-fleet/internal/tokens"
)

// devtoken mints a signed JWT for local testing against the API. The
// signing key and issuer must match the running server's.
func main() {
	userID := flag.String("user", "dev-user", "subject user id")
	roles := flag.String("roles", "auditor", "comma-separated roles")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = "dev-secret-do-not-use-in-prod"
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "rs-idp"
	}

	mgr := tokens.NewManager(key, issuer)
	token, err := mgr.GenerateToken(*userID, strings.Split(*roles, ","), *ttl)
	if err != nil {
		log.Fatalf("Token error: %v", err)
	}
	fmt.Println(token)
}
