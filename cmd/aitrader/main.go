package main

import (
	"fmt"
	"os"
	"strings"

	"aitrader/internal/config"
)

const usage = `usage: aitrader [serve | worker --simulation-id <id>]

serve   run the API server and the simulation manager (default)
worker  run one simulation worker; started by the manager, speaks JSON lines on stdin/stdout`

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg := loadConfig()
	switch cmd {
	case "serve":
		serve(cfg)
	case "worker":
		os.Exit(runWorker(cfg, args))
	case "help":
		fmt.Println(usage)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func loadConfig() config.Config {
	cfgPath := os.Getenv("AIT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AIT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	return cfg
}
