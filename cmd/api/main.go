package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"archvote/internal/app/bootstrap"
)

// API process entrypoint.
// Data flow:
// 1) Load config.
// 2) Restore the poll registry from the configured store.
// 3) Serve HTTP and run the expiry sweeper until a shutdown signal arrives.
func main() {
	log.Println("archvote api starting")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildAPI(ctx)
	if err != nil {
		log.Fatalf("bootstrap api failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("api shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Printf("archvote api stopped with error: %v", err)
	}
}
