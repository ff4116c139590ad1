package main

import (
	"context"
	"log"

	"mnx/internal/app/bootstrap"

	"github.com/joho/godotenv"
)

// Event Gateway process entrypoint.
// Data flow:
// 1) Load config.
// 2) Build app wiring (event store + use cases + HTTP server).
// 3) Serve ingress until killed.
func main() {
	_ = godotenv.Load()

	log.Println("mnx gateway starting")
	app, err := bootstrap.BuildGateway()
	if err != nil {
		log.Fatalf("bootstrap gateway failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("gateway shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("mnx gateway stopped with error: %v", err)
	}
}
