package chaser

import (
	"time"

	"github.com/PropDesk/JobDesk/internal/workflow"
)

// DwellConfig — сколько карточка может «висеть» на этапе, прежде чем по ней
// уйдёт напоминание. DELIVERED фактически не напоминается.
type DwellConfig struct {
	Pending    time.Duration // default: 48h
	Uploaded   time.Duration // default: 12h
	InProgress time.Duration // default: 24h
	ReadyForQC time.Duration // default: 8h
	InRevision time.Duration // default: 12h
	Delivered  time.Duration // default: 365 days
}

func DefaultDwellConfig() DwellConfig {
	return DwellConfig{
		Pending:    48 * time.Hour,
		Uploaded:   12 * time.Hour,
		InProgress: 24 * time.Hour,
		ReadyForQC: 8 * time.Hour,
		InRevision: 12 * time.Hour,
		Delivered:  365 * 24 * time.Hour,
	}
}

type Planner struct {
	cfg DwellConfig
}

func NewPlanner(cfg DwellConfig) *Planner {
	def := DefaultDwellConfig()
	if cfg.Pending <= 0 {
		cfg.Pending = def.Pending
	}
	if cfg.Uploaded <= 0 {
		cfg.Uploaded = def.Uploaded
	}
	if cfg.InProgress <= 0 {
		cfg.InProgress = def.InProgress
	}
	if cfg.ReadyForQC <= 0 {
		cfg.ReadyForQC = def.ReadyForQC
	}
	if cfg.InRevision <= 0 {
		cfg.InRevision = def.InRevision
	}
	if cfg.Delivered <= 0 {
		cfg.Delivered = def.Delivered
	}
	return &Planner{cfg: cfg}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultDwellConfig())
}

// NextChaseDelay возвращает допустимое время простоя для статуса: через
// столько воркер снова возьмёт карточку, если она не сдвинется.
func (p *Planner) NextChaseDelay(status workflow.Status) time.Duration {
	switch status {
	case workflow.StatusUploaded:
		return p.cfg.Uploaded
	case workflow.StatusInProgress:
		return p.cfg.InProgress
	case workflow.StatusReadyForQC:
		return p.cfg.ReadyForQC
	case workflow.StatusInRevision:
		return p.cfg.InRevision
	case workflow.StatusDelivered:
		return p.cfg.Delivered
	default:
		return p.cfg.Pending
	}
}
