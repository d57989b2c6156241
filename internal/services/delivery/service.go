package delivery

import (
	"context"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetDeliverySettings(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, bool, error)
	UpsertDeliverySettings(ctx context.Context, ds *models.DeliverySettings) error
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// DefaultSettings — вшитые дефолты: полный порядок секций, всё видимо,
// комментарии и скачивание включены, страница приватная.
func DefaultSettings(jobCardID uint64) *models.DeliverySettings {
	return &models.DeliverySettings{
		JobCardID:         jobCardID,
		SectionOrder:      DefaultSectionOrder(),
		SectionVisibility: defaultVisibility(),
		EnableComments:    true,
		EnableDownloads:   true,
		IsPublic:          false,
		PasswordProtected: false,
	}
}

// SaveInput: nil-поле означает «не менять» (а при первом сохранении —
// «взять дефолт»).
type SaveInput struct {
	SectionOrder      []string
	SectionVisibility map[string]bool
	EnableComments    *bool
	EnableDownloads   *bool
	IsPublic          *bool
	PasswordProtected *bool
}

// Get: отсутствие записи — не ошибка, отдаём дефолтную конфигурацию.
func (s *Service) Get(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, error) {
	if jobCardID == 0 {
		return nil, errors.New("jobCardId is required")
	}
	ds, found, err := s.repo.GetDeliverySettings(ctx, jobCardID)
	if err != nil {
		return nil, err
	}
	if !found {
		return DefaultSettings(jobCardID), nil
	}
	// Старые записи могли сохраниться с неполным порядком/видимостью.
	ds.SectionOrder = NormalizeOrder(ds.SectionOrder)
	ds.SectionVisibility = normalizeVisibility(ds.SectionVisibility)
	return ds, nil
}

// Save создаёт запись при первом обращении (недостающие поля берутся из
// дефолтов) и дальше обновляет её на месте.
func (s *Service) Save(ctx context.Context, jobCardID uint64, in SaveInput) (*models.DeliverySettings, error) {
	ds, err := s.Get(ctx, jobCardID)
	if err != nil {
		return nil, err
	}

	if in.SectionOrder != nil {
		ds.SectionOrder = NormalizeOrder(in.SectionOrder)
	}
	if in.SectionVisibility != nil {
		ds.SectionVisibility = normalizeVisibility(in.SectionVisibility)
	}
	if in.EnableComments != nil {
		ds.EnableComments = *in.EnableComments
	}
	if in.EnableDownloads != nil {
		ds.EnableDownloads = *in.EnableDownloads
	}
	if in.IsPublic != nil {
		ds.IsPublic = *in.IsPublic
	}
	if in.PasswordProtected != nil {
		ds.PasswordProtected = *in.PasswordProtected
	}

	if err := s.repo.UpsertDeliverySettings(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// Reset возвращает конфигурацию к вшитым дефолтам.
func (s *Service) Reset(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, error) {
	if jobCardID == 0 {
		return nil, errors.New("jobCardId is required")
	}
	ds := DefaultSettings(jobCardID)
	ds.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpsertDeliverySettings(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}
