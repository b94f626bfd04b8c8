package runs

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i-aayush/whatif/internal/infrastructure/kafka"
	"github.com/i-aayush/whatif/internal/infrastructure/observability"
	"github.com/i-aayush/whatif/internal/inference"
	"github.com/i-aayush/whatif/internal/ledger"
	"github.com/i-aayush/whatif/internal/models"
	"github.com/i-aayush/whatif/internal/pricing"
	"github.com/i-aayush/whatif/internal/repository"
	"github.com/i-aayush/whatif/internal/storage"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// InferenceRequest carries the user-facing parameters of one image generation.
type InferenceRequest struct {
	Model             string  `json:"model_id"`
	Prompt            string  `json:"prompt"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	PromptStrength    float64 `json:"prompt_strength"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	OutputQuality     int     `json:"output_quality"`
}

// TrainingRequest carries the user-facing parameters of one model training.
type TrainingRequest struct {
	ModelName   string `json:"model_name"`
	InputImages string `json:"input_images"`
	NumImages   int    `json:"num_images"`
	HighQuality bool   `json:"high_quality"`
}

const defaultInferenceModel = "black-forest-labs/flux-1.1-pro"

// Controller drives a run from submission to a terminal state: reserve
// credits, submit to the provider, hand off to the poller, settle credits
// when the terminal state resolves.
type Controller struct {
	runRepo      repository.RunRepository
	creditLedger ledger.Ledger
	client       inference.Client
	artifacts    storage.ArtifactStore
	producer     kafka.EventProducer
	pollCfg      PollConfig

	// inflight tracks runs polled by this process so the sweeper does not
	// start a second poller for them. Correctness does not depend on it:
	// terminal transitions are claimed in the store.
	inflight sync.Map
}

func NewController(
	runRepo repository.RunRepository,
	creditLedger ledger.Ledger,
	client inference.Client,
	artifacts storage.ArtifactStore,
	producer kafka.EventProducer,
	pollCfg PollConfig,
) *Controller {
	return &Controller{
		runRepo:      runRepo,
		creditLedger: creditLedger,
		client:       client,
		artifacts:    artifacts,
		producer:     producer,
		pollCfg:      pollCfg,
	}
}

func (c *Controller) SubmitInference(ctx context.Context, userID string, req InferenceRequest) (*models.Run, error) {
	if req.Model == "" {
		req.Model = defaultInferenceModel
	}
	if req.NumOutputs == 0 {
		req.NumOutputs = 1
	}
	if req.NumInferenceSteps == 0 {
		req.NumInferenceSteps = pricing.BaseInferenceSteps
	}
	if req.OutputQuality == 0 {
		req.OutputQuality = 80
	}

	cost := pricing.InferenceCost(pricing.InferenceParams{
		NumOutputs:        req.NumOutputs,
		OutputQuality:     req.OutputQuality,
		NumInferenceSteps: req.NumInferenceSteps,
	})

	params := map[string]any{
		"prompt":              req.Prompt,
		"prompt_upsampling":   true,
		"num_outputs":         req.NumOutputs,
		"guidance_scale":      req.GuidanceScale,
		"prompt_strength":     req.PromptStrength,
		"num_inference_steps": req.NumInferenceSteps,
		"output_quality":      req.OutputQuality,
	}

	return c.submit(ctx, userID, models.KindInference, cost, params, inference.SubmitRequest{
		Kind:  models.KindInference,
		Model: req.Model,
		Input: params,
	})
}

func (c *Controller) SubmitTraining(ctx context.Context, userID string, req TrainingRequest) (*models.Run, error) {
	if req.ModelName == "" {
		return nil, fmt.Errorf("%w: model_name is required", pkgerrors.ErrInvalidInput)
	}

	cost := pricing.TrainingCost(req.NumImages, req.HighQuality)

	params := map[string]any{
		"model_name":   req.ModelName,
		"input_images": req.InputImages,
		"num_images":   req.NumImages,
		"high_quality": req.HighQuality,
		"trigger_word": req.ModelName,
	}

	return c.submit(ctx, userID, models.KindTraining, cost, params, inference.SubmitRequest{
		Kind:        models.KindTraining,
		Model:       req.ModelName,
		Input:       params,
		Destination: req.ModelName,
	})
}

// submit runs the compensating-transaction sequence: create the run row to
// obtain its id, debit credits tagged with that id, then submit externally.
// A failed external submission refunds the debit in full; credits are never
// held against a job that never started.
func (c *Controller) submit(ctx context.Context, userID string, kind models.RunKind, cost int64, params map[string]any, subReq inference.SubmitRequest) (*models.Run, error) {
	tracer := otel.Tracer("run-controller")
	ctx, span := tracer.Start(ctx, "SubmitRun")
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("kind", string(kind)),
		attribute.Int64("credit_cost", cost),
	)
	defer span.End()

	// Affordability gate before any row or external call exists.
	ok, err := c.creditLedger.HasSufficient(ctx, userID, cost)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		span.SetStatus(codes.Error, "insufficient credits")
		slog.Warn("run rejected, insufficient credits", "user_id", userID, "kind", kind, "credit_cost", cost)
		return nil, pkgerrors.ErrInsufficientCredits
	}

	run := &models.Run{
		UserID:     userID,
		Kind:       kind,
		Status:     models.StatusSubmitted,
		Params:     params,
		CreditCost: cost,
	}
	if err := c.runRepo.Create(ctx, run); err != nil {
		span.RecordError(err)
		return nil, err
	}

	description := fmt.Sprintf("%s run %s", kind, run.ID)
	if _, err := c.creditLedger.Debit(ctx, userID, cost, description, run.ID); err != nil {
		// Lost a race for the last credits between the gate and the debit.
		finishErr := c.runRepo.Finish(ctx, run.ID, models.StatusFailed, nil, "insufficient credits")
		if finishErr != nil && !stderrors.Is(finishErr, pkgerrors.ErrRunAlreadyTerminal) {
			slog.Error("failed to mark unfunded run failed", "run_id", run.ID, "error", finishErr)
		}
		span.RecordError(err)
		return nil, err
	}

	if kind == models.KindTraining {
		if err := c.client.CreateModel(ctx, subReq.Destination); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "destination model creation failed")
			slog.Error("destination model creation failed", "run_id", run.ID, "model", subReq.Destination, "error", err)
			c.compensateSubmission(ctx, run, err)
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSubmissionFailed, err)
		}
	}

	externalID, err := c.client.Submit(ctx, subReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "external submission failed")
		slog.Error("external submission failed", "run_id", run.ID, "user_id", userID, "error", err)
		c.compensateSubmission(ctx, run, err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrSubmissionFailed, err)
	}

	if err := c.runRepo.SetExternalID(ctx, run.ID, externalID); err != nil {
		// The provider job is running; the poller can still settle it.
		slog.Error("failed to persist external id", "run_id", run.ID, "external_id", externalID, "error", err)
	}
	run.ExternalID = externalID
	run.Status = models.StatusProcessing

	c.publishRunEvent(run, "run_submitted")
	slog.Info("run submitted", "run_id", run.ID, "user_id", userID, "kind", kind, "external_id", externalID, "credit_cost", cost)

	c.StartPolling(run)
	return run, nil
}

// compensateSubmission refunds the held credits and marks the run failed
// after an external submission error.
func (c *Controller) compensateSubmission(ctx context.Context, run *models.Run, submitErr error) {
	if _, err := c.creditLedger.Refund(ctx, run.UserID, run.CreditCost, "failed submission", run.ID); err != nil {
		slog.Error("failed to refund after submission failure", "run_id", run.ID, "user_id", run.UserID, "error", err)
	}
	if err := c.runRepo.Finish(ctx, run.ID, models.StatusFailed, nil, submitErr.Error()); err != nil && !stderrors.Is(err, pkgerrors.ErrRunAlreadyTerminal) {
		slog.Error("failed to mark run failed after submission failure", "run_id", run.ID, "error", err)
	}
	observability.RunsFinished.WithLabelValues(string(run.Kind), string(models.StatusFailed)).Inc()
}

// StartPolling launches the background poller for a submitted run. The
// poller outlives the originating request.
func (c *Controller) StartPolling(run *models.Run) {
	if _, loaded := c.inflight.LoadOrStore(run.ID, struct{}{}); loaded {
		return
	}
	poller := NewPoller(c.client, c.runRepo, c, c.pollCfg)
	go func() {
		defer c.inflight.Delete(run.ID)
		poller.Poll(context.Background(), run)
	}()
}

// ObserveCompletion settles a run for which a terminal external status was
// observed. Safe to invoke more than once: the terminal transition is
// claimed in the store, and only the claiming call settles credits. A call
// on an already-terminal run is a no-op.
func (c *Controller) ObserveCompletion(ctx context.Context, runID string, observed *inference.JobState) error {
	tracer := otel.Tracer("run-controller")
	ctx, span := tracer.Start(ctx, "ObserveCompletion")
	span.SetAttributes(attribute.String("run_id", runID), attribute.String("observed_status", string(observed.Status)))
	defer span.End()

	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if run.Status.Terminal() {
		slog.Info("run already terminal, ignoring observation", "run_id", runID, "status", run.Status)
		return nil
	}

	switch observed.Status {
	case inference.JobSucceeded:
		refs, err := c.artifacts.Store(ctx, run.UserID, run.ID, observed.Outputs)
		if err != nil {
			span.RecordError(err)
			slog.Error("failed to persist artifacts", "run_id", runID, "error", err)
			refs = nil
		}
		if err := c.runRepo.Finish(ctx, runID, models.StatusCompleted, refs, ""); err != nil {
			if stderrors.Is(err, pkgerrors.ErrRunAlreadyTerminal) {
				return nil
			}
			span.RecordError(err)
			return err
		}
		run.Status = models.StatusCompleted
		run.OutputRefs = refs
		observability.RunsFinished.WithLabelValues(string(run.Kind), string(models.StatusCompleted)).Inc()
		c.publishRunEvent(run, "run_finished")
		slog.Info("run completed", "run_id", runID, "outputs", len(refs))
		return nil

	case inference.JobFailed, inference.JobCanceled:
		status := models.StatusFailed
		if observed.Status == inference.JobCanceled {
			status = models.StatusCanceled
		}
		reason := observed.Error
		if reason == "" {
			reason = fmt.Sprintf("external job %s", observed.Status)
		}
		if err := c.runRepo.Finish(ctx, runID, status, nil, reason); err != nil {
			if stderrors.Is(err, pkgerrors.ErrRunAlreadyTerminal) {
				return nil
			}
			span.RecordError(err)
			return err
		}
		// The claim above guarantees this refund is issued at most once per run.
		c.refundRun(ctx, run, fmt.Sprintf("refund for %s run", status))
		run.Status = status
		observability.RunsFinished.WithLabelValues(string(run.Kind), string(status)).Inc()
		c.publishRunEvent(run, "run_finished")
		slog.Info("run failed externally", "run_id", runID, "status", status, "reason", reason)
		return nil

	default:
		return fmt.Errorf("observed status %q is not terminal", observed.Status)
	}
}

// FailTimeout settles a run whose polling budget ran out before a terminal
// status was observed. The refund is issued only if this call wins the
// terminal claim.
func (c *Controller) FailTimeout(ctx context.Context, runID string) error {
	run, err := c.runRepo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	if err := c.runRepo.Finish(ctx, runID, models.StatusFailed, nil, pkgerrors.ErrPollTimeout.Error()); err != nil {
		if stderrors.Is(err, pkgerrors.ErrRunAlreadyTerminal) {
			return nil
		}
		return err
	}
	c.refundRun(ctx, run, "refund for timed out run")
	run.Status = models.StatusFailed
	observability.RunsFinished.WithLabelValues(string(run.Kind), string(models.StatusFailed)).Inc()
	c.publishRunEvent(run, "run_finished")
	slog.Error("run timed out", "run_id", runID, "external_id", run.ExternalID)
	return nil
}

func (c *Controller) refundRun(ctx context.Context, run *models.Run, description string) {
	if run.CreditCost <= 0 {
		return
	}
	if _, err := c.creditLedger.Refund(ctx, run.UserID, run.CreditCost, description, run.ID); err != nil {
		slog.Error("failed to refund run", "run_id", run.ID, "user_id", run.UserID, "amount", run.CreditCost, "error", err)
	}
}

// MarkProcessing records a non-terminal observation for user visibility.
func (c *Controller) MarkProcessing(ctx context.Context, runID string) {
	err := c.runRepo.UpdateStatus(ctx, runID, models.StatusProcessing)
	if err != nil && !stderrors.Is(err, pkgerrors.ErrRunNotFound) {
		slog.Error("failed to update run status", "run_id", runID, "error", err)
	}
}

func (c *Controller) Run(ctx context.Context, runID string) (*models.Run, error) {
	return c.runRepo.GetByID(ctx, runID)
}

func (c *Controller) ListRuns(ctx context.Context, userID string, limit, offset int) ([]models.Run, error) {
	return c.runRepo.ListByUser(ctx, userID, limit, offset)
}

// ResumeOrphans restarts polling for non-terminal runs older than the
// threshold, e.g. after a process restart dropped their pollers.
func (c *Controller) ResumeOrphans(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	stale, err := c.runRepo.ListStale(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range stale {
		run := stale[i]
		if run.ExternalID == "" {
			// Never reached the provider; nothing to poll. Settle it as failed.
			if err := c.FailTimeout(ctx, run.ID); err != nil {
				slog.Error("failed to settle orphaned run", "run_id", run.ID, "error", err)
			}
			continue
		}
		slog.Info("resuming orphaned run", "run_id", run.ID, "external_id", run.ExternalID, "created_at", run.CreatedAt)
		c.StartPolling(&run)
	}
	return nil
}

func (c *Controller) publishRunEvent(run *models.Run, eventType string) {
	if c.producer == nil {
		return
	}
	event := map[string]any{
		"event_type":  eventType,
		"run_id":      run.ID,
		"user_id":     run.UserID,
		"kind":        run.Kind,
		"status":      run.Status,
		"credit_cost": run.CreditCost,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal run event", "run_id", run.ID, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.producer.Send(ctx, run.UserID, payload); err != nil {
			slog.Error("failed to publish run event", "run_id", run.ID, "error", err)
		}
	}()
}
