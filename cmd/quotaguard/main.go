// Command quotaguard starts the admission and quota service.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"quotaguard/internal/ratelimit"
)

func loadConfig(args []string) *ratelimit.Config {
	cfg, err := ratelimit.LoadConfig(ratelimit.LoadOptions{Args: args})
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(os.Stdout)
			os.Exit(0)
		}
		printUsage(os.Stderr)
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "print_config" {
		cfg := loadConfig(args[1:])
		if err := ratelimit.PrintConfig(os.Stdout, cfg); err != nil {
			log.Fatalf("failed to print config: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig(args)
	app, err := ratelimit.NewApplication(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("failed to shutdown application: %v", err)
	}
}
