package main

import (
	"context"
	"log"

	"mnx/internal/app/bootstrap"

	"github.com/joho/godotenv"
)

// Projector process entrypoint. PROJECTOR_LENS selects which lens this
// replica runs (rel, sem, graph, translator).
// Data flow:
// 1) Load config.
// 2) Build the selected lens over postgres.
// 3) Serve deliveries and admin operations until killed.
func main() {
	_ = godotenv.Load()

	log.Println("mnx projector starting")
	app, err := bootstrap.BuildProjector()
	if err != nil {
		log.Fatalf("bootstrap projector failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("projector shutdown close failed: %v", err)
		}
	}()

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("mnx projector stopped with error: %v", err)
	}
}
