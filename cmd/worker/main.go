package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"archvote/internal/app/bootstrap"
)

// Worker process entrypoint.
// Data flow:
// 1) Load config.
// 2) Open the shared poll registry store.
// 3) Relay outbox rows to the event bus until a shutdown signal arrives.
func main() {
	log.Println("archvote worker starting")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.BuildWorker(ctx)
	if err != nil {
		log.Fatalf("bootstrap worker failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("worker shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Printf("archvote worker stopped with error: %v", err)
	}
}
