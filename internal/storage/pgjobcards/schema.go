package pgjobcards

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS job_cards (
  id BIGSERIAL PRIMARY KEY,
  client_name TEXT NOT NULL,
  address TEXT NOT NULL,
  legacy_status TEXT NOT NULL DEFAULT '',
  uploaded_at TIMESTAMPTZ NULL,
  accepted_at TIMESTAMPTZ NULL,
  ready_for_qc_at TIMESTAMPTZ NULL,
  revision_requested_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  assigned_editor TEXT NULL,
  next_chase_at TIMESTAMPTZ NOT NULL,
  chase_count INT NOT NULL DEFAULT 0,
  last_chased_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_job_cards_next_chase_at ON job_cards(next_chase_at)`,
		`
CREATE TABLE IF NOT EXISTS job_card_history (
  id BIGSERIAL PRIMARY KEY,
  job_card_id BIGINT NOT NULL REFERENCES job_cards(id) ON DELETE CASCADE,
  action TEXT NOT NULL,
  actor TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT '',
  notes TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_job_card_history_card_created ON job_card_history(job_card_id, created_at)`,
		`
CREATE TABLE IF NOT EXISTS delivery_settings (
  job_card_id BIGINT PRIMARY KEY REFERENCES job_cards(id) ON DELETE CASCADE,
  section_order TEXT[] NOT NULL,
  section_visibility JSONB NOT NULL,
  enable_comments BOOLEAN NOT NULL DEFAULT TRUE,
  enable_downloads BOOLEAN NOT NULL DEFAULT TRUE,
  is_public BOOLEAN NOT NULL DEFAULT FALSE,
  password_protected BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
