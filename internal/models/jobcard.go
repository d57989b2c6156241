package models

import "time"

// Известные значения старого текстового поля статуса (дашборд первого
// поколения писал их напрямую). Используются только как fallback, когда ни
// одна из временных меток ещё не выставлена.
const (
	LegacyStatusEditing    = "editing"
	LegacyStatusReadyForQA = "ready_for_qa"
)

type JobCard struct {
	ID         uint64
	ClientName string
	Address    string

	// Жизненный цикл: каждая метка выставляется ровно один раз, в порядке
	// прохождения этапов. Канонический статус вычисляется из них
	// (internal/workflow).
	UploadedAt          *time.Time
	AcceptedAt          *time.Time
	ReadyForQCAt        *time.Time
	RevisionRequestedAt *time.Time
	DeliveredAt         *time.Time

	LegacyStatus string

	AssignedEditor *string

	NextChaseAt  time.Time
	ChaseCount   int32
	LastChasedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry — append-only запись аудита по job card. Никогда не
// переписывается.
type HistoryEntry struct {
	ID        uint64
	JobCardID uint64
	Action    string
	Actor     string
	Role      string
	Notes     *string
	CreatedAt time.Time
}

type JobCardCreateInput struct {
	ClientName string
	Address    string
}

// DeliverySettings — порядок и видимость секций клиентской страницы
// доставки. Создаётся лениво при первом сохранении.
type DeliverySettings struct {
	JobCardID         uint64
	SectionOrder      []string
	SectionVisibility map[string]bool
	EnableComments    bool
	EnableDownloads   bool
	IsPublic          bool
	PasswordProtected bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
