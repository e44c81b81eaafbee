package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MansoorButt/kube-infra/internal/artifact"
	"github.com/MansoorButt/kube-infra/internal/common"
	"github.com/MansoorButt/kube-infra/internal/config"
	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/session"
	"github.com/MansoorButt/kube-infra/internal/training"
	"github.com/MansoorButt/kube-infra/internal/transport"
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

	logger, logFile, err := common.NewLogger("client", cfg.Log.Level, cfg.Log.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not set up logging: %v\n", err)
		return 1
	}
	defer logFile.Close()

	var dataset *training.Dataset
	if cfg.Client.DatasetPath != "" {
		dataset, err = training.LoadCsvDataset(cfg.Client.DatasetPath)
		if err != nil {
			logger.Error("Error loading dataset", "error", err)
			return 1
		}
	} else {
		dataset = training.SyntheticDataset(cfg.Client.SyntheticSamples, cfg.Model.Features, training.DefaultSplitSeed)
	}
	logger.Info(fmt.Sprintf("Loaded dataset with %d samples", dataset.Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := session.Dial(ctx, cfg.ServerAddress(), session.DialConfig{
		Timeout:  cfg.Client.DialTimeout,
		Attempts: cfg.Client.DialAttempts,
		Backoff:  cfg.Client.DialBackoff,
	}, logger)
	if err != nil {
		logger.Error("Error connecting to server", "error", err)
		return 1
	}

	channel := transport.NewChannel(conn, transport.WithMaxPayloadSize(cfg.Server.MaxPayloadSize))
	flSession := session.NewSession[*model.LinearModel](channel, artifact.JSONCodec[*model.LinearModel]{},
		training.NewTrainer(dataset, logger), session.Options{TrainTimeout: cfg.Client.TrainTimeout}, logger)

	logger.Info("Starting client session")
	result, err := flSession.Run(ctx)
	if err != nil {
		logger.Error("Session failed", "error", err)
		return 1
	}

	logger.Info("Client shutting down", "acknowledged", result.Acknowledged,
		"initial_bytes", result.InitialSize, "trained_bytes", result.TrainedSize)
	return 0
}
