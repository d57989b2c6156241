package pgjobcards

import (
	"context"
	"encoding/json"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// ErrJobCardNotFound: настройки доставки сохраняются для несуществующей
// карточки — FK на job_cards не нашёл строку.
var ErrJobCardNotFound = errors.New("job card not found")

// foreign_key_violation
const pgFKViolationCode = "23503"

// GetDeliverySettings возвращает (nil, false, nil), если записи ещё нет —
// это не ошибка, вызывающая сторона подставит дефолты.
func (s *Storage) GetDeliverySettings(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, bool, error) {
	var ds models.DeliverySettings
	var visRaw []byte
	err := s.db.QueryRow(ctx, `
SELECT job_card_id, section_order, section_visibility,
       enable_comments, enable_downloads, is_public, password_protected,
       created_at, updated_at
FROM delivery_settings
WHERE job_card_id = $1
`, jobCardID).Scan(
		&ds.JobCardID, &ds.SectionOrder, &visRaw,
		&ds.EnableComments, &ds.EnableDownloads, &ds.IsPublic, &ds.PasswordProtected,
		&ds.CreatedAt, &ds.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select delivery settings")
	}

	if err := json.Unmarshal(visRaw, &ds.SectionVisibility); err != nil {
		return nil, false, errors.Wrap(err, "decode section visibility")
	}
	return &ds, true, nil
}

func (s *Storage) UpsertDeliverySettings(ctx context.Context, ds *models.DeliverySettings) error {
	visRaw, err := json.Marshal(ds.SectionVisibility)
	if err != nil {
		return errors.Wrap(err, "encode section visibility")
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(ctx, `
INSERT INTO delivery_settings (
  job_card_id, section_order, section_visibility,
  enable_comments, enable_downloads, is_public, password_protected,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (job_card_id)
DO UPDATE SET
  section_order = EXCLUDED.section_order,
  section_visibility = EXCLUDED.section_visibility,
  enable_comments = EXCLUDED.enable_comments,
  enable_downloads = EXCLUDED.enable_downloads,
  is_public = EXCLUDED.is_public,
  password_protected = EXCLUDED.password_protected,
  updated_at = EXCLUDED.updated_at
`, ds.JobCardID, ds.SectionOrder, visRaw,
		ds.EnableComments, ds.EnableDownloads, ds.IsPublic, ds.PasswordProtected, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgFKViolationCode {
			return ErrJobCardNotFound
		}
		return errors.Wrap(err, "upsert delivery settings")
	}
	return nil
}
