package messages

import "time"

// JobCardUpdated публикуется после успешного перехода job card на новый
// этап. API-процесс слушает топик и сбрасывает кэш текущего состояния, чтобы
// все инстансы сошлись на свежем снапшоте.
type JobCardUpdated struct {
	EventID   string `json:"event_id"`
	JobCardID uint64 `json:"job_card_id"`

	Action string `json:"action"`
	Status string `json:"status"`

	Actor string `json:"actor"`
	Role  string `json:"role"`
	Notes string `json:"notes,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// JobCardStale публикуется воркером по карточкам, зависшим на этапе дольше
// допустимого. API применяет его как отметку «напоминание отправлено».
type JobCardStale struct {
	EventID   string `json:"event_id"`
	JobCardID uint64 `json:"job_card_id"`

	Status     string    `json:"status"`
	StaleSince time.Time `json:"stale_since"`
	ChaseCount int32     `json:"chase_count"`

	NextChaseAt time.Time `json:"next_chase_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}
