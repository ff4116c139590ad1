package main

import (
	"context"
	"log"

	"mnx/internal/app/bootstrap"

	"github.com/joho/godotenv"
)

// CDC Publisher process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (outbox reader + subscriber fan-out).
// 3) Drain the outbox until killed.
func main() {
	_ = godotenv.Load()

	log.Println("mnx publisher starting")
	app, err := bootstrap.BuildPublisher()
	if err != nil {
		log.Fatalf("bootstrap publisher failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("publisher shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("mnx publisher stopped with error: %v", err)
	}
}
