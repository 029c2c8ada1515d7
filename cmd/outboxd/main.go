// Command outboxd runs the outbox flush worker for one actor, probing the remote for connectivity and
// serving metrics and a small admin API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/velmie/mutation-outbox/config"
)

func main() {
	var (
		configPath string
		envFile    string
	)
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file, skipped when missing")
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("outboxd: %v", err)
	}
}
