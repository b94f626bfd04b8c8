package runs_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/i-aayush/whatif/internal/inference"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/runs"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPollRun(t *testing.T, repo *fakeRunRepo, l *fakeLedger, cost int64) *models.Run {
	t.Helper()
	run := &models.Run{UserID: "u1", Kind: models.KindInference, CreditCost: cost}
	require.NoError(t, repo.Create(context.Background(), run))
	require.NoError(t, repo.SetExternalID(context.Background(), run.ID, "ext-1"))
	l.balances["u1"] -= cost
	return run
}

func TestPollerTerminalObservation(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{states: []*inference.JobState{
		{Status: inference.JobProcessing},
		{Status: inference.JobSucceeded, Outputs: []string{"https://cdn/a.png"}},
	}}
	ctrl, repo, l, _ := newTestController(client)
	l.balances["u1"] = 10
	run := seedPollRun(t, repo, l, 2)

	poller := runs.NewPoller(client, repo, ctrl, fastPollConfig())
	poller.Poll(ctx, run)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 2, client.statusCalls)
	assert.Equal(t, 0, l.refundCount(run.ID))
}

func TestPollerExhaustsAttemptBudget(t *testing.T) {
	ctx := context.Background()
	// Always pending; the poller must stop after MaxAttempts and settle the
	// run as failed with a refund.
	client := &fakeClient{}
	ctrl, repo, l, _ := newTestController(client)
	l.balances["u1"] = 10
	run := seedPollRun(t, repo, l, 2)

	cfg := fastPollConfig()
	cfg.MaxAttempts = 3
	poller := runs.NewPoller(client, repo, ctrl, cfg)
	poller.Poll(ctx, run)

	assert.Equal(t, 3, client.statusCalls)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, pkgerrors.ErrPollTimeout.Error(), stored.Error)
	assert.Equal(t, 1, l.refundCount(run.ID))
	assert.Equal(t, int64(10), l.balances["u1"])
}

func TestPollerTransientErrorsConsumeAttempts(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{
		statusErrs: []error{fmt.Errorf("connection reset"), fmt.Errorf("connection reset")},
		states: []*inference.JobState{
			nil,
			nil,
			{Status: inference.JobSucceeded},
		},
	}
	ctrl, repo, l, _ := newTestController(client)
	l.balances["u1"] = 10
	run := seedPollRun(t, repo, l, 2)

	poller := runs.NewPoller(client, repo, ctrl, fastPollConfig())
	poller.Poll(ctx, run)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 3, client.statusCalls)
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{}
	ctrl, repo, l, _ := newTestController(client)
	l.balances["u1"] = 10
	run := seedPollRun(t, repo, l, 2)

	cfg := fastPollConfig()
	cfg.BaseInterval = time.Hour
	cfg.MaxInterval = time.Hour
	cfg.MaxTotalDuration = 24 * time.Hour
	poller := runs.NewPoller(client, repo, ctrl, cfg)

	cancel()
	done := make(chan struct{})
	go func() {
		poller.Poll(ctx, run)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}

	// The run is left for the orphan sweeper; no refund is issued here.
	stored, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Equal(t, 0, l.refundCount(run.ID))
}

func TestPollerDurationBudget(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	ctrl, repo, l, _ := newTestController(client)
	l.balances["u1"] = 10
	run := seedPollRun(t, repo, l, 2)

	// A total budget smaller than the first interval means zero polls.
	cfg := fastPollConfig()
	cfg.BaseInterval = time.Hour
	cfg.MaxInterval = time.Hour
	cfg.MaxTotalDuration = time.Minute
	poller := runs.NewPoller(client, repo, ctrl, cfg)
	poller.Poll(ctx, run)

	assert.Equal(t, 0, client.statusCalls)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, 1, l.refundCount(run.ID))
}
