package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/config"
	"github.com/MansoorButt/kube-infra/internal/events"
	"github.com/MansoorButt/kube-infra/internal/florch"
	"github.com/MansoorButt/kube-infra/internal/metrics"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger, logFile, err := common.NewLogger("server", cfg.Log.Level, cfg.Log.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not set up logging: %v\n", err)
		return 1
	}
	defer logFile.Close()

	eventBus := events.NewEventBus()
	collector := metrics.NewCollector()

	finished := make(chan events.Event, 1)
	eventBus.Subscribe(common.ROUND_FINISHED_EVENT_TYPE, finished)

	initialModel := model.NewUntrainedLinearModel(cfg.Model.Name, cfg.Model.Features)
	flOrchestrator, err := florch.NewCoordinator[*model.LinearModel](florch.OptionsFromConfig(cfg), initialModel,
		artifact.JSONCodec[*model.LinearModel]{}, eventBus, collector, logger)
	if err != nil {
		logger.Error("Error creating coordinator", "error", err)
		return 1
	}

	listener, err := net.Listen("tcp", cfg.ServerAddress())
	if err != nil {
		logger.Error(fmt.Sprintf("Could not bind to %s", cfg.ServerAddress()), "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiDone := make(chan struct{})
	if cfg.API.Addr != "" {
		handler := server.NewHandler(logger.Named("api"), flOrchestrator)
		apiServer, err := server.NewHttpServer(logger.Named("api"), cfg.API.Addr,
			server.NewRouter(handler, collector.Handler()))
		if err != nil {
			logger.Error("Error starting operator API", "error", err)
			listener.Close()
			return 1
		}
		go func() {
			defer close(apiDone)
			if err := apiServer.Serve(ctx); err != nil {
				logger.Error("Operator API failed", "error", err)
			}
		}()
	} else {
		close(apiDone)
	}

	// trap sigterm or interrupt and run the regular shutdown path
	go func() {
		if server.WaitForSignal(ctx, logger) {
			flOrchestrator.Shutdown("interrupt")
		}
	}()

	if err := flOrchestrator.Serve(ctx, listener); err != nil {
		logger.Error("Coordinator stopped with error", "error", err)
	}
	cancel()
	<-apiDone

	select {
	case event := <-finished:
		logRoundFinished(logger, event, flOrchestrator.Models())
	default:
	}

	logger.Info("Server shutdown complete")
	return 0
}

func logRoundFinished(logger hclog.Logger, event events.Event, models []*model.LinearModel) {
	roundFinishedEvent, ok := event.Data.(events.RoundFinishedEvent)
	if !ok {
		logger.Info("Invalid event data")
		return
	}

	logger.Info(fmt.Sprintf("FL round finished! Reason: %s", roundFinishedEvent.Reason),
		"received", roundFinishedEvent.SubmittedCount, "cohort", roundFinishedEvent.CohortSize)
	for _, trained := range models {
		if trained == nil {
			continue
		}
		logger.Info(fmt.Sprintf("Trained model %s: accuracy %.4f on %d samples", trained.Name, trained.Accuracy, trained.Samples))
	}
}
