package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/i-aayush/whatif/internal/infrastructure/observability"
	"github.com/i-aayush/whatif/internal/inference"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/repository"
)

// PollConfig bounds the backoff loop that drives one external job to a
// terminal state.
type PollConfig struct {
	BaseInterval     time.Duration
	MaxInterval      time.Duration
	MaxAttempts      int
	MaxTotalDuration time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		BaseInterval:     2 * time.Second,
		MaxInterval:      time.Minute,
		MaxAttempts:      30,
		MaxTotalDuration: 30 * time.Minute,
	}
}

// Poller repeatedly queries the provider's status endpoint with exponential
// backoff until the job is terminal or the attempt/duration budget runs out.
type Poller struct {
	client  inference.Client
	runRepo repository.RunRepository
	ctrl    *Controller
	cfg     PollConfig
}

func NewPoller(client inference.Client, runRepo repository.RunRepository, ctrl *Controller, cfg PollConfig) *Poller {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultPollConfig().BaseInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultPollConfig().MaxInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollConfig().MaxAttempts
	}
	if cfg.MaxTotalDuration <= 0 {
		cfg.MaxTotalDuration = DefaultPollConfig().MaxTotalDuration
	}
	return &Poller{client: client, runRepo: runRepo, ctrl: ctrl, cfg: cfg}
}

// Poll drives one run. Transient status-query errors consume an attempt but
// never end the loop; only a terminal observation or budget exhaustion does.
func (p *Poller) Poll(ctx context.Context, run *models.Run) {
	deadline := time.Now().Add(p.cfg.MaxTotalDuration)

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		interval := p.interval(attempt)
		if time.Now().Add(interval).After(deadline) {
			break
		}

		select {
		case <-ctx.Done():
			slog.Warn("poller stopped by context", "run_id", run.ID, "attempt", attempt)
			return
		case <-time.After(interval):
		}

		state, err := p.client.Status(ctx, run.Kind, run.ExternalID)
		if err != nil {
			// Transient provider errors do not terminate the loop.
			observability.PollAttempts.WithLabelValues("error").Inc()
			slog.Warn("status poll failed, will retry",
				"run_id", run.ID,
				"external_id", run.ExternalID,
				"attempt", attempt,
				"error", err)
			continue
		}

		if state.Status.Terminal() {
			observability.PollAttempts.WithLabelValues("terminal").Inc()
			if err := p.ctrl.ObserveCompletion(ctx, run.ID, state); err != nil {
				slog.Error("failed to settle terminal run", "run_id", run.ID, "error", err)
			}
			return
		}

		observability.PollAttempts.WithLabelValues("pending").Inc()
		slog.Info("run still pending", "run_id", run.ID, "external_status", state.Status, "attempt", attempt)
		p.ctrl.MarkProcessing(ctx, run.ID)
	}

	if err := p.ctrl.FailTimeout(ctx, run.ID); err != nil {
		slog.Error("failed to settle timed out run", "run_id", run.ID, "error", err)
	}
}

// interval returns min(base << attempt, max).
func (p *Poller) interval(attempt int) time.Duration {
	if attempt > 30 {
		return p.cfg.MaxInterval
	}
	d := p.cfg.BaseInterval << uint(attempt)
	if d <= 0 || d > p.cfg.MaxInterval {
		return p.cfg.MaxInterval
	}
	return d
}
