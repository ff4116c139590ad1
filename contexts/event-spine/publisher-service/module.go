package publisherservice

import (
	"log/slog"
	"time"

	esports "mnx/contexts/event-spine/event-store/ports"
	httpadapter "mnx/contexts/event-spine/publisher-service/adapters/http"
	"mnx/contexts/event-spine/publisher-service/application/workers"
	"mnx/contexts/event-spine/publisher-service/ports"
)

type Module struct {
	Worker *workers.FanoutWorker
	Health *httpadapter.HealthServer
}

type Dependencies struct {
	Store       esports.EventStore
	Client      ports.SubscriberClient
	Endpoints   []string
	PublisherID string

	PollInterval time.Duration
	BatchSize    int
	BaseDelay    time.Duration
	Concurrency  int

	HealthAddr string
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	client := deps.Client
	if client == nil {
		client = httpadapter.NewSubscriberClient(5*time.Second, deps.PublisherID)
	}
	return Module{
		Worker: &workers.FanoutWorker{
			Store:        deps.Store,
			Client:       client,
			Endpoints:    deps.Endpoints,
			PublisherID:  deps.PublisherID,
			PollInterval: deps.PollInterval,
			BatchSize:    deps.BatchSize,
			BaseDelay:    deps.BaseDelay,
			Concurrency:  deps.Concurrency,
			Logger:       deps.Logger,
		},
		Health: httpadapter.NewHealthServer(deps.HealthAddr, deps.Logger),
	}
}
