package florch

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"

	"github.com/MansoorButt/kube-infra/internal/model"
	"github.com/MansoorButt/kube-infra/internal/registry"
)

// statusReporter periodically logs how far the round has progressed.
type statusReporter struct {
	registry      *registry.Registry
	logger        hclog.Logger
	interval      time.Duration
	cronScheduler *cron.Cron
	started       bool
}

func newStatusReporter(reg *registry.Registry, logger hclog.Logger, interval time.Duration) *statusReporter {
	return &statusReporter{
		registry:      reg,
		logger:        logger.Named("progress"),
		interval:      interval,
		cronScheduler: cron.New(cron.WithSeconds()),
	}
}

func (r *statusReporter) Start() error {
	if r.interval <= 0 {
		return nil
	}

	if _, err := r.cronScheduler.AddFunc(fmt.Sprintf("@every %s", r.interval), r.report); err != nil {
		return err
	}
	r.cronScheduler.Start()
	r.started = true
	return nil
}

func (r *statusReporter) Stop() {
	if r.started {
		r.cronScheduler.Stop()
	}
}

func (r *statusReporter) report() {
	status := r.registry.Snapshot()

	switch status.State {
	case model.AwaitingCohort:
		r.logger.Info(fmt.Sprintf("Waiting for clients: %d/%d connected", len(status.Participants), status.CohortSize))
	case model.Distributing, model.Collecting:
		r.logger.Info(fmt.Sprintf("Waiting for trained models: %d/%d received", status.SubmittedCount, status.CohortSize),
			"state", status.State.String())
	default:
		r.logger.Debug("Round state", "state", status.State.String())
	}
}
