package workflow

import "github.com/PropDesk/JobDesk/internal/models"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusUploaded   Status = "UPLOADED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReadyForQC Status = "READY_FOR_QC"
	StatusInRevision Status = "IN_REVISION"
	StatusDelivered  Status = "DELIVERED"
)

// StatusOf вычисляет канонический статус job card по временным меткам:
// берётся самый поздний пройденный этап. Если меток нет вообще — смотрим на
// старое текстовое поле (и только на него, метки и legacy никогда не
// смешиваются). Функция тотальная: на любом входе возвращает статус.
func StatusOf(c *models.JobCard) Status {
	switch {
	case c.DeliveredAt != nil:
		return StatusDelivered
	case c.RevisionRequestedAt != nil:
		return StatusInRevision
	case c.ReadyForQCAt != nil:
		return StatusReadyForQC
	case c.AcceptedAt != nil:
		return StatusInProgress
	case c.UploadedAt != nil:
		return StatusUploaded
	}
	return legacyStatus(c.LegacyStatus)
}

func legacyStatus(raw string) Status {
	switch raw {
	case models.LegacyStatusEditing:
		return StatusInProgress
	case models.LegacyStatusReadyForQA:
		return StatusReadyForQC
	}
	return StatusPending
}

type StatusMeta struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// Единая таблица отображения: и статус из меток, и статус из legacy-поля
// рендерятся через неё.
var statusMeta = map[Status]StatusMeta{
	StatusPending:    {Label: "Pending", Color: "gray"},
	StatusUploaded:   {Label: "Uploaded", Color: "blue"},
	StatusInProgress: {Label: "In Progress", Color: "amber"},
	StatusReadyForQC: {Label: "Ready for QC", Color: "purple"},
	StatusInRevision: {Label: "In Revision", Color: "red"},
	StatusDelivered:  {Label: "Delivered", Color: "green"},
}

func MetaOf(s Status) StatusMeta {
	if m, ok := statusMeta[s]; ok {
		return m
	}
	return statusMeta[StatusPending]
}
