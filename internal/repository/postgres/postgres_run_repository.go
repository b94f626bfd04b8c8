package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/i-aayush/whatif/internal/infrastructure/observability"
	"github.com/i-aayush/whatif/internal/models"
	pkgerrors "github.com/i-aayush/whatif/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresRunRepository struct {
	db *sql.DB
}

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

func (r *PostgresRunRepository) Create(ctx context.Context, run *models.Run) error {
	var err error
	tracer := otel.Tracer("run-repository")
	ctx, span := tracer.Start(ctx, "CreateRun")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateRun", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateRun").Observe(time.Since(start).Seconds())
	}()

	if run == nil {
		err = fmt.Errorf("run is nil")
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = models.StatusSubmitted
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	span.SetAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("user_id", run.UserID),
		attribute.String("kind", string(run.Kind)),
	)

	query := `
	INSERT INTO runs (id, user_id, kind, status, params, credit_cost)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query, run.ID, run.UserID, run.Kind, run.Status, params, run.CreditCost).Scan(&run.CreatedAt)
	if err != nil {
		slog.Error("failed to create run", "method", "Create", "user_id", run.UserID, "kind", run.Kind, "error", err)
		return fmt.Errorf("failed to create run: %w", err)
	}

	slog.Info("run created", "method", "Create", "run_id", run.ID, "user_id", run.UserID, "kind", run.Kind, "credit_cost", run.CreditCost)
	return nil
}

func (r *PostgresRunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `
		SELECT id, user_id, kind, status, params, external_id, credit_cost, output_refs, error, created_at, completed_at
		FROM runs WHERE id = $1
	`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run by id: %w", err)
	}
	return run, nil
}

func (r *PostgresRunRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Run, error) {
	query := `
		SELECT id, user_id, kind, status, params, external_id, credit_cost, output_refs, error, created_at, completed_at
		FROM runs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *PostgresRunRepository) SetExternalID(ctx context.Context, id, externalID string) error {
	query := `UPDATE runs SET external_id = $1, status = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, externalID, models.StatusProcessing, id)
	if err != nil {
		return fmt.Errorf("failed to set external id: %w", err)
	}
	return checkRunAffected(res)
}

func (r *PostgresRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus) error {
	if status.Terminal() {
		return fmt.Errorf("terminal status %q requires Finish", status)
	}
	// Guarded so a late status write can never resurrect a terminal run.
	query := `UPDATE runs SET status = $1 WHERE id = $2 AND status NOT IN ($3, $4, $5)`
	res, err := r.db.ExecContext(ctx, query, status, id, models.StatusCompleted, models.StatusFailed, models.StatusCanceled)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return checkRunAffected(res)
}

// Finish claims the terminal transition. Exactly one caller can win the
// conditional update; everyone else gets ErrRunAlreadyTerminal.
func (r *PostgresRunRepository) Finish(ctx context.Context, id string, status models.RunStatus, outputRefs []string, runErr string) error {
	var err error
	tracer := otel.Tracer("run-repository")
	ctx, span := tracer.Start(ctx, "FinishRun")
	span.SetAttributes(attribute.String("run_id", id), attribute.String("status", string(status)))
	defer span.End()

	start := time.Now()
	defer func() {
		st := "success"
		if err != nil && !stderrors.Is(err, pkgerrors.ErrRunAlreadyTerminal) {
			st = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("FinishRun", st).Inc()
		observability.RepositoryDuration.WithLabelValues("FinishRun").Observe(time.Since(start).Seconds())
	}()

	if !status.Terminal() {
		err = fmt.Errorf("status %q is not terminal", status)
		return err
	}

	refs, err := json.Marshal(outputRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal output refs: %w", err)
	}

	query := `
		UPDATE runs
		SET status = $1, output_refs = $2, error = NULLIF($3, ''), completed_at = NOW()
		WHERE id = $4 AND status NOT IN ($5, $6, $7)
	`
	res, err := r.db.ExecContext(ctx, query, status, refs, runErr, id, models.StatusCompleted, models.StatusFailed, models.StatusCanceled)
	if err != nil {
		slog.Error("failed to finish run", "method", "Finish", "run_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if affected == 0 {
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			err = fmt.Errorf("failed to check run: %w", checkErr)
			return err
		}
		if !exists {
			err = pkgerrors.ErrRunNotFound
		} else {
			err = pkgerrors.ErrRunAlreadyTerminal
		}
		return err
	}

	slog.Info("run finished", "method", "Finish", "run_id", id, "status", status, "outputs", len(outputRefs))
	return nil
}

func (r *PostgresRunRepository) ListStale(ctx context.Context, cutoff time.Time) ([]models.Run, error) {
	query := `
		SELECT id, user_id, kind, status, params, external_id, credit_cost, output_refs, error, created_at, completed_at
		FROM runs
		WHERE status NOT IN ($1, $2, $3) AND created_at < $4
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, models.StatusCompleted, models.StatusFailed, models.StatusCanceled, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var params, refs []byte
	var externalID, runErr sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.Kind,
		&run.Status,
		&params,
		&externalID,
		&run.CreditCost,
		&refs,
		&runErr,
		&run.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run params: %w", err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &run.OutputRefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output refs: %w", err)
		}
	}
	run.ExternalID = externalID.String
	run.Error = runErr.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func checkRunAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.ErrRunNotFound
	}
	return nil
}
