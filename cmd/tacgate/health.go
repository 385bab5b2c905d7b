package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

// runHealthCmd probes the local gateway's public health endpoint.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	cmd.StringVar(&port, "port", port, "Gateway port")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "OK")
	return 0
}
