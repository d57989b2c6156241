package pgjobcards

import (
	"context"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/PropDesk/JobDesk/internal/workflow"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// DefaultChaseDelay — стартовый дедлайн «карточкой давно никто не
// занимался» после создания или любого перехода. Дальше воркер пересчитывает
// его по статусу.
const DefaultChaseDelay = 24 * time.Hour

// ErrTransitionConflict: условный UPDATE не нашёл строку в ожидаемом
// состоянии — метка уже выставлена другим запросом.
var ErrTransitionConflict = errors.New("job card already moved past this transition")

type Transition struct {
	JobCardID uint64
	Action    workflow.Action

	Actor string
	Role  string
	Notes string

	At          time.Time
	NextChaseAt time.Time
}

type ChaseUpdate struct {
	JobCardID   uint64
	ChasedAt    time.Time
	NextChaseAt time.Time
}

const jobCardColumns = `
  id, client_name, address, legacy_status,
  uploaded_at, accepted_at, ready_for_qc_at, revision_requested_at, delivered_at,
  assigned_editor,
  next_chase_at, chase_count, last_chased_at,
  created_at, updated_at`

func scanJobCard(row pgx.Row) (*models.JobCard, error) {
	var c models.JobCard
	if err := row.Scan(
		&c.ID, &c.ClientName, &c.Address, &c.LegacyStatus,
		&c.UploadedAt, &c.AcceptedAt, &c.ReadyForQCAt, &c.RevisionRequestedAt, &c.DeliveredAt,
		&c.AssignedEditor,
		&c.NextChaseAt, &c.ChaseCount, &c.LastChasedAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CreateJobCard(ctx context.Context, in models.JobCardCreateInput) (*models.JobCard, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO job_cards (client_name, address, next_chase_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
RETURNING id
`, in.ClientName, in.Address, now.Add(DefaultChaseDelay), now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert job card")
	}

	cards, err := s.GetJobCardsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(cards) != 1 {
		return nil, errors.New("job card not found after insert")
	}
	return cards[0], nil
}

func (s *Storage) GetJobCardsByIDs(ctx context.Context, ids []uint64) ([]*models.JobCard, error) {
	if len(ids) == 0 {
		return []*models.JobCard{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT`+jobCardColumns+`
FROM job_cards
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select job cards")
	}
	defer rows.Close()

	out := make([]*models.JobCard, 0, len(ids))
	for rows.Next() {
		c, err := scanJobCard(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job card")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListJobCards(ctx context.Context, limit, offset int) ([]*models.JobCard, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+jobCardColumns+`
FROM job_cards
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list job cards")
	}
	defer rows.Close()

	var out []*models.JobCard
	for rows.Next() {
		c, err := scanJobCard(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job card")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListHistory(ctx context.Context, jobCardID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, job_card_id, action, actor, role, notes, created_at
FROM job_card_history
WHERE job_card_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3
`, jobCardID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.JobCardID, &e.Action, &e.Actor, &e.Role, &e.Notes, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ApplyTransition выставляет метку этапа ровно один раз и в той же
// транзакции дописывает строку аудита. WHERE-условия защищают от гонки двух
// операторов: второй UPDATE не найдёт строку и вернёт ErrTransitionConflict.
func (s *Storage) ApplyTransition(ctx context.Context, t Transition) (*models.JobCard, error) {
	at := t.At.UTC()
	if t.NextChaseAt.IsZero() {
		t.NextChaseAt = at.Add(DefaultChaseDelay)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var q string
	args := []any{t.JobCardID, at, t.NextChaseAt.UTC()}
	switch t.Action {
	case workflow.ActionUpload:
		q = `
UPDATE job_cards
SET uploaded_at = $2, chase_count = 0, next_chase_at = $3, updated_at = now()
WHERE id = $1 AND uploaded_at IS NULL`
	case workflow.ActionAccept:
		// accept заодно закрепляет карточку за редактором, если она свободна.
		q = `
UPDATE job_cards
SET accepted_at = $2, assigned_editor = COALESCE(assigned_editor, NULLIF($4, '')),
    chase_count = 0, next_chase_at = $3, updated_at = now()
WHERE id = $1 AND accepted_at IS NULL AND uploaded_at IS NOT NULL`
		args = append(args, t.Actor)
	case workflow.ActionReadyForQC:
		// Первый сабмит, повторный после правок, либо карточка без меток,
		// унаследовавшая IN_PROGRESS от legacy_status='editing'. В цикле
		// ревизии метка запроса правок снимается, чтобы карточка вернулась
		// в READY_FOR_QC.
		q = `
UPDATE job_cards
SET ready_for_qc_at = $2, revision_requested_at = NULL,
    chase_count = 0, next_chase_at = $3, updated_at = now()
WHERE id = $1 AND delivered_at IS NULL
  AND (accepted_at IS NOT NULL
       OR revision_requested_at IS NOT NULL
       OR (uploaded_at IS NULL AND legacy_status = 'editing'))
  AND (ready_for_qc_at IS NULL OR revision_requested_at IS NOT NULL)`
	case workflow.ActionRevision:
		// READY_FOR_QC карточка могла прийти как из обычного пайплайна, так
		// и из миграции (legacy_status='ready_for_qa' без единой метки).
		q = `
UPDATE job_cards
SET revision_requested_at = $2, chase_count = 0, next_chase_at = $3, updated_at = now()
WHERE id = $1 AND revision_requested_at IS NULL AND delivered_at IS NULL
  AND (ready_for_qc_at IS NOT NULL
       OR (uploaded_at IS NULL AND accepted_at IS NULL AND legacy_status = 'ready_for_qa'))`
	case workflow.ActionDelivered:
		q = `
UPDATE job_cards
SET delivered_at = $2, chase_count = 0, next_chase_at = $3, updated_at = now()
WHERE id = $1 AND delivered_at IS NULL
  AND (ready_for_qc_at IS NOT NULL
       OR (uploaded_at IS NULL AND accepted_at IS NULL AND revision_requested_at IS NULL
           AND legacy_status = 'ready_for_qa'))`
	default:
		return nil, errors.Errorf("unknown action: %s", t.Action)
	}

	ct, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "apply transition %s", t.Action)
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrTransitionConflict
	}

	var notes *string
	if t.Notes != "" {
		notes = &t.Notes
	}
	_, err = tx.Exec(ctx, `
INSERT INTO job_card_history (job_card_id, action, actor, role, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, t.JobCardID, string(t.Action), t.Actor, t.Role, notes, at)
	if err != nil {
		return nil, errors.Wrap(err, "insert history entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	cards, err := s.GetJobCardsByIDs(ctx, []uint64{t.JobCardID})
	if err != nil {
		return nil, err
	}
	if len(cards) != 1 {
		return nil, errors.New("job card not found after transition")
	}
	return cards[0], nil
}

// ClaimStaleJobCards выбирает пачку карточек с истёкшим next_chase_at и
// «бронирует» их на lease, чтобы другие инстансы воркера не взяли те же
// строки. SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimStaleJobCards(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.JobCard, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+jobCardColumns+`
FROM job_cards
WHERE next_chase_at <= $1
  AND delivered_at IS NULL
ORDER BY next_chase_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale job cards")
	}
	defer rows.Close()

	var picked []*models.JobCard
	for rows.Next() {
		c, err := scanJobCard(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan stale job card")
		}
		picked = append(picked, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, c := range picked {
		_, err := tx.Exec(ctx, `UPDATE job_cards SET next_chase_at = $2, updated_at = now() WHERE id = $1`, c.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease job card")
		}
		c.NextChaseAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) ApplyChaseUpdate(ctx context.Context, upd ChaseUpdate) error {
	_, err := s.db.Exec(ctx, `
UPDATE job_cards
SET last_chased_at = $2, chase_count = chase_count + 1, next_chase_at = $3, updated_at = now()
WHERE id = $1
`, upd.JobCardID, upd.ChasedAt.UTC(), upd.NextChaseAt.UTC())
	return errors.Wrap(err, "apply chase update")
}
