package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"aitrader/internal/cli"
)

func main() {
	var (
		apiBase = flag.String("api-base", "", "API base URL (env: AIT_API_BASE)")
		token   = flag.String("token", "", "Bearer token (env: AIT_TOKEN)")
		outFmt  = flag.String("output", "text", "Output format: json|text")
	)
	flag.Usage = func() { cli.Usage(os.Stderr) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		cli.Usage(os.Stderr)
		os.Exit(2)
	}

	base := strings.TrimSpace(*apiBase)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("AIT_API_BASE"))
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	tok := strings.TrimSpace(*token)
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("AIT_TOKEN"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := cli.Session{
		Client: &cli.Client{BaseURL: strings.TrimRight(base, "/"), Token: tok},
		Output: cli.Format(strings.TrimSpace(*outFmt)),
		Out:    os.Stdout,
		Err:    os.Stderr,
	}
	if err := cli.Dispatch(ctx, session, args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
