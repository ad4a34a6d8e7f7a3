package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Attempt é uma linha de captcha_attempts: um job, um desfecho.
type Attempt struct {
	JobID       string
	PageURL     string
	Egress      string
	Kind        string
	Outcome     string
	ChallengeID string
	Rounds      int
	Reloads     int
	Error       string
	Duration    time.Duration
}

type AttemptRepository struct {
	db     *pgx.Conn
	logger *zap.Logger
}

func NewAttemptRepository(ctx context.Context, databaseURL string, logger *zap.Logger) (*AttemptRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar no postgres: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("banco não responde: %w", err)
	}

	repo := &AttemptRepository{db: conn, logger: logger}
	repo.runMigrations(ctx)
	return repo, nil
}

func (r *AttemptRepository) SaveAttempt(ctx context.Context, a Attempt) (string, error) {
	query := `
        INSERT INTO captcha_attempts
        (job_id, page_url, egress, kind, outcome, challenge_id, rounds, reloads, error, duration_ms, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (job_id) DO UPDATE
        SET outcome = EXCLUDED.outcome,
            kind = EXCLUDED.kind,
            challenge_id = EXCLUDED.challenge_id,
            rounds = EXCLUDED.rounds,
            reloads = EXCLUDED.reloads,
            error = EXCLUDED.error,
            duration_ms = EXCLUDED.duration_ms,
            finished_at = NOW()
        RETURNING id
    `
	var id string
	err := r.db.QueryRow(ctx, query,
		a.JobID,
		a.PageURL,
		a.Egress,
		a.Kind,
		a.Outcome,
		a.ChallengeID,
		a.Rounds,
		a.Reloads,
		a.Error,
		a.Duration.Milliseconds(),
	).Scan(&id)
	return id, err
}

func (r *AttemptRepository) Close(ctx context.Context) {
	r.db.Close(ctx)
}
