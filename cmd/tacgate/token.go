package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tacedge/tacgate/pkg/auth"
	"github.com/tacedge/tacgate/pkg/types"
)

// runTokenCmd mints a signed HS256 access token for manual testing.
// The signing secret comes from JWT_SECRET, matching what the server
// validates against.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		subject     string
		nodeID      string
		role        string
		ceiling     string
		permissions string
		ttl         time.Duration
	)
	cmd.StringVar(&subject, "subject", "", "Token subject (REQUIRED)")
	cmd.StringVar(&nodeID, "node", "", "Node the token acts for")
	cmd.StringVar(&role, "role", "operator", "Role: operator, supervisor, admin or service")
	cmd.StringVar(&ceiling, "ceiling", "", "Classification ceiling (defaults to UNCLASSIFIED)")
	cmd.StringVar(&permissions, "permissions", "", "Comma-separated permission override")
	cmd.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if subject == "" {
		fmt.Fprintln(stderr, "Error: --subject is required")
		cmd.Usage()
		return 2
	}
	if len(auth.PermissionsFor(auth.Role(role))) == 0 && permissions == "" {
		fmt.Fprintf(stderr, "Error: unknown role %q and no --permissions given\n", role)
		return 2
	}
	if ceiling != "" && !types.Classification(ceiling).Valid() {
		fmt.Fprintf(stderr, "Error: unknown classification %q\n", ceiling)
		return 2
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(stderr, "Error: JWT_SECRET is not set")
		return 2
	}

	now := time.Now()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		NodeID:              nodeID,
		Role:                auth.Role(role),
		ClassificationLevel: ceiling,
	}
	if permissions != "" {
		claims.Permissions = splitCSV(permissions)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(stderr, "Error: signing failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
