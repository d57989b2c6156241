package jobcards

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/PropDesk/JobDesk/internal/broker/messages"
	"github.com/PropDesk/JobDesk/internal/cache"
	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
	"github.com/PropDesk/JobDesk/internal/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("job card not found")
	ErrSubmitInFlight   = errors.New("another action for this job card is still in flight")
	ErrActionNotAllowed = errors.New("action is not available for this job card and role")
	ErrNotesRequired    = errors.New("notes are required for this action")
)

type Repository interface {
	CreateJobCard(ctx context.Context, in models.JobCardCreateInput) (*models.JobCard, error)
	GetJobCardsByIDs(ctx context.Context, ids []uint64) ([]*models.JobCard, error)
	ListJobCards(ctx context.Context, limit, offset int) ([]*models.JobCard, error)
	ListHistory(ctx context.Context, jobCardID uint64, limit, offset int) ([]*models.HistoryEntry, error)
	ApplyTransition(ctx context.Context, t pgjobcards.Transition) (*models.JobCard, error)
	ApplyChaseUpdate(ctx context.Context, upd pgjobcards.ChaseUpdate) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// SubmitGuard — замок «одно действие на карточку за раз». nil-гвард, как и
// nil-кэш, просто выключает механизм.
type SubmitGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const submitGuardTTL = 30 * time.Second

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	guard      SubmitGuard
	producer   Producer
	topic      string
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, g SubmitGuard, p Producer, topic string, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, guard: g, producer: p, topic: topic, currentTTL: currentTTL}
}

func (s *Service) CreateJobCard(ctx context.Context, in models.JobCardCreateInput) (*models.JobCard, error) {
	if in.ClientName == "" {
		return nil, errors.New("clientName is required")
	}
	if in.Address == "" {
		return nil, errors.New("address is required")
	}
	return s.repo.CreateJobCard(ctx, in)
}

func (s *Service) GetJobCardsByIDs(ctx context.Context, ids []uint64) ([]*models.JobCard, error) {
	if len(ids) == 0 {
		return []*models.JobCard{}, nil
	}
	// Кэшируем текущее состояние карточки целиком как JSON. Кэш — лучшее
	// усилие: при любой неудаче идём в БД.
	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.JobCard, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var c models.JobCard
			if json.Unmarshal(b, &c) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &c
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetJobCardsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.currentTTL > 0 {
			for _, c := range fromDB {
				b, _ := json.Marshal(c)
				_ = s.cache.Set(ctx, currentKey(c.ID), b, s.currentTTL)
			}
		}
		for _, c := range fromDB {
			got[c.ID] = c
		}
	}

	// Ответ в том же порядке, что ids.
	out := make([]*models.JobCard, 0, len(ids))
	for _, id := range ids {
		if c, ok := got[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Service) GetJobCard(ctx context.Context, id uint64) (*models.JobCard, error) {
	if id == 0 {
		return nil, errors.New("jobCardId is required")
	}
	cards, err := s.GetJobCardsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, ErrNotFound
	}
	return cards[0], nil
}

// ListJobCards отдаёт страницу карточек; фильтр по каноническому статусу
// применяется после чтения, т.к. статус — производная от меток, а не колонка.
func (s *Service) ListJobCards(ctx context.Context, limit, offset int, status string) ([]*models.JobCard, error) {
	cards, err := s.repo.ListJobCards(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return cards, nil
	}
	filtered := make([]*models.JobCard, 0, len(cards))
	for _, c := range cards {
		if workflow.StatusOf(c) == workflow.Status(status) {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

func (s *Service) ListHistory(ctx context.Context, jobCardID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	if jobCardID == 0 {
		return nil, errors.New("jobCardId is required")
	}
	return s.repo.ListHistory(ctx, jobCardID, limit, offset)
}

// AvailableActions — кнопки для текущего зрителя. Неизвестная роль даёт
// пустой список, а не ошибку.
func (s *Service) AvailableActions(ctx context.Context, id uint64, roleStr, userID string) ([]workflow.ActionSpec, error) {
	card, err := s.GetJobCard(ctx, id)
	if err != nil {
		return nil, err
	}
	role, ok := workflow.ParseRole(roleStr)
	if !ok {
		return []workflow.ActionSpec{}, nil
	}
	return workflow.AvailableActions(card, role, userID), nil
}

// ExecuteAction прогоняет переход через гвард, таблицу допустимости и
// условный UPDATE в БД, затем освежает кэш и публикует событие. Любая ошибка
// оставляет карточку нетронутой, операцию можно повторить.
func (s *Service) ExecuteAction(ctx context.Context, id uint64, actionStr, roleStr, userID, notes string) (*models.JobCard, error) {
	if id == 0 {
		return nil, errors.New("jobCardId is required")
	}
	action, ok := workflow.ParseAction(actionStr)
	if !ok {
		return nil, errors.Errorf("unknown action: %s", actionStr)
	}
	role, ok := workflow.ParseRole(roleStr)
	if !ok {
		return nil, errors.Errorf("unknown role: %s", roleStr)
	}

	if s.guard != nil {
		acquired, err := s.guard.Acquire(ctx, submitKey(id), submitGuardTTL)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrSubmitInFlight
		}
		defer func() { _ = s.guard.Release(ctx, submitKey(id)) }()
	}

	// Свежий снапшот из БД: решение о допустимости не принимаем по кэшу.
	cards, err := s.repo.GetJobCardsByIDs(ctx, []uint64{id})
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, ErrNotFound
	}
	card := cards[0]

	if !workflow.ActionAllowed(card, action, role, userID) {
		return nil, ErrActionNotAllowed
	}
	if workflow.NotesRequired(action) && notes == "" {
		return nil, ErrNotesRequired
	}

	now := time.Now().UTC()
	updated, err := s.repo.ApplyTransition(ctx, pgjobcards.Transition{
		JobCardID: id,
		Action:    action,
		Actor:     userID,
		Role:      string(role),
		Notes:     notes,
		At:        now,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, updated)

	if s.producer != nil && s.topic != "" {
		msg := messages.JobCardUpdated{
			EventID:    uuid.NewString(),
			JobCardID:  id,
			Action:     string(action),
			Status:     string(workflow.StatusOf(updated)),
			Actor:      userID,
			Role:       string(role),
			Notes:      notes,
			OccurredAt: now,
		}
		b, _ := json.Marshal(msg)
		// Переход уже зафиксирован в БД; неудачная публикация не должна
		// откатывать действие оператора.
		if err := s.producer.Publish(ctx, s.topic, []byte(fmt.Sprintf("%d", id)), b); err != nil {
			slog.Warn("publish job card update", "job_card_id", id, "error", err.Error())
		}
	}

	return updated, nil
}

// ApplyUpdatedMessage — обработчик топика jobcard.updated: другой инстанс
// перевёл карточку, локальный кэш надо освежить из БД.
func (s *Service) ApplyUpdatedMessage(ctx context.Context, msg messages.JobCardUpdated) error {
	if msg.JobCardID == 0 {
		return errors.New("job_card_id is required")
	}
	s.reloadCache(ctx, msg.JobCardID)
	return nil
}

// ApplyStaleMessage — обработчик jobcard.stale от воркера: фиксируем
// отметку «напоминание отправлено» и следующий дедлайн.
func (s *Service) ApplyStaleMessage(ctx context.Context, msg messages.JobCardStale) error {
	if msg.JobCardID == 0 {
		return errors.New("job_card_id is required")
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	if msg.NextChaseAt.IsZero() {
		msg.NextChaseAt = msg.OccurredAt.Add(pgjobcards.DefaultChaseDelay)
	}

	if err := s.repo.ApplyChaseUpdate(ctx, pgjobcards.ChaseUpdate{
		JobCardID:   msg.JobCardID,
		ChasedAt:    msg.OccurredAt,
		NextChaseAt: msg.NextChaseAt,
	}); err != nil {
		return err
	}

	s.reloadCache(ctx, msg.JobCardID)
	return nil
}

func (s *Service) refreshCache(ctx context.Context, c *models.JobCard) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(c)
	_ = s.cache.Set(ctx, currentKey(c.ID), b, s.currentTTL)
}

func (s *Service) reloadCache(ctx context.Context, id uint64) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	cards, err := s.repo.GetJobCardsByIDs(ctx, []uint64{id})
	if err == nil && len(cards) == 1 {
		s.refreshCache(ctx, cards[0])
		return
	}
	_ = s.cache.Del(ctx, currentKey(id))
}

func currentKey(id uint64) string {
	return fmt.Sprintf("jobcard:%d:current", id)
}

func submitKey(id uint64) string {
	return fmt.Sprintf("jobcard:%d:submitting", id)
}
