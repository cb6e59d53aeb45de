package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/matsjfunke/header-test-mcp/internal/bootstrap/serverconfig"
	"github.com/matsjfunke/header-test-mcp/internal/composition/mcpserver"
	"github.com/matsjfunke/header-test-mcp/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	host := flag.String("host", "", "Listen host override")
	port := flag.Int("port", 0, "Listen port override (default 3333)")
	jsonResponse := flag.Bool("json-response", false, "Answer POST requests with JSON instead of SSE")
	logLevel := flag.String("log-level", "", "Log level: debug | info | warn | error")
	logFormat := flag.String("log-format", "", "Log format: text | json")
	flag.Parse()
	if *showVersion {
		fmt.Printf("header-mcp version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := serverconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("header-mcp failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "json-response":
			cfg.JSONResponse = *jsonResponse
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	logger := privacylog.NewLogger(os.Stderr, cfg.Log.Format, privacylog.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := mcpserver.New(cfg, logger)
	if err != nil {
		log.Fatalf("header-mcp failed to initialize: %v", err)
	}

	log.Printf("header-mcp starting on %s%s", cfg.Addr(), cfg.Path)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("header-mcp failed: %v", err)
	}
	log.Println("header-mcp stopped")
}
