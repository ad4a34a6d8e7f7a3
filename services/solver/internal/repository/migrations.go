package repository

import (
	"context"

	"go.uber.org/zap"
)

type migration struct {
	name  string
	query string
}

var migrations = []migration{
	{
		name: "001_captcha_attempts",
		query: `CREATE TABLE IF NOT EXISTS captcha_attempts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			job_id VARCHAR(100) NOT NULL UNIQUE,
			page_url TEXT NOT NULL,
			egress VARCHAR(255),
			kind VARCHAR(20),
			outcome VARCHAR(20) NOT NULL,
			challenge_id VARCHAR(64),
			rounds INT DEFAULT 0,
			reloads INT DEFAULT 0,
			error TEXT,
			duration_ms BIGINT,
			finished_at TIMESTAMP DEFAULT NOW()
		);`,
	},
	{
		name:  "002_idx_outcome",
		query: "CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON captcha_attempts(outcome, finished_at);",
	},
}

func (r *AttemptRepository) runMigrations(ctx context.Context) {
	r.logger.Info("verificando schema do banco de dados")
	for _, m := range migrations {
		if _, err := r.db.Exec(ctx, m.query); err != nil {
			// Segue para as próximas: um índice já existente não deve travar o worker.
			r.logger.Warn("erro na migration", zap.String("migration", m.name), zap.Error(err))
		}
	}
}
