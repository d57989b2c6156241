package jobcards_api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	deliverysvc "github.com/PropDesk/JobDesk/internal/services/delivery"
	"github.com/PropDesk/JobDesk/internal/services/jobcards"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
	"github.com/PropDesk/JobDesk/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// Заголовки, через которые дашборд передаёт действующего пользователя.
// Сама аутентификация живёт выше по стеку, здесь личность только
// записывается в аудит и проверяется по таблице ролей.
const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
)

type API struct {
	jobs     *jobcards.Service
	delivery *deliverysvc.Service
}

func New(jobs *jobcards.Service, delivery *deliverysvc.Service) *API {
	return &API{jobs: jobs, delivery: delivery}
}

func (a *API) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/job-cards", func(r chi.Router) {
			r.Post("/", a.createJobCard)
			r.Get("/", a.listJobCards)
			r.Get("/{id}", a.getJobCard)
			r.Get("/{id}/history", a.listHistory)
			r.Get("/{id}/actions", a.listActions)
			r.Post("/{id}/actions/{action}", a.executeAction)
		})
		r.Route("/jobs/{id}/delivery-settings", func(r chi.Router) {
			r.Get("/", a.getDeliverySettings)
			r.Post("/", a.saveDeliverySettings)
			r.Put("/", a.saveDeliverySettings)
			r.Post("/reset", a.resetDeliverySettings)
		})
	})
}

type jobCardView struct {
	ID          uint64 `json:"id"`
	ClientName  string `json:"clientName"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	StatusLabel string `json:"statusLabel"`
	StatusColor string `json:"statusColor"`

	UploadedAt          *time.Time `json:"uploadedAt,omitempty"`
	AcceptedAt          *time.Time `json:"acceptedAt,omitempty"`
	ReadyForQCAt        *time.Time `json:"readyForQCAt,omitempty"`
	RevisionRequestedAt *time.Time `json:"revisionRequestedAt,omitempty"`
	DeliveredAt         *time.Time `json:"deliveredAt,omitempty"`

	AssignedEditor *string `json:"assignedEditor,omitempty"`

	ChaseCount   int32      `json:"chaseCount"`
	LastChasedAt *time.Time `json:"lastChasedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toJobCardView(c *models.JobCard) jobCardView {
	status := workflow.StatusOf(c)
	meta := workflow.MetaOf(status)
	return jobCardView{
		ID:          c.ID,
		ClientName:  c.ClientName,
		Address:     c.Address,
		Status:      string(status),
		StatusLabel: meta.Label,
		StatusColor: meta.Color,

		UploadedAt:          c.UploadedAt,
		AcceptedAt:          c.AcceptedAt,
		ReadyForQCAt:        c.ReadyForQCAt,
		RevisionRequestedAt: c.RevisionRequestedAt,
		DeliveredAt:         c.DeliveredAt,

		AssignedEditor: c.AssignedEditor,

		ChaseCount:   c.ChaseCount,
		LastChasedAt: c.LastChasedAt,

		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type historyView struct {
	ID        uint64    `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"by"`
	Role      string    `json:"role,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"at"`
}

type deliverySettingsView struct {
	SectionOrder      []string        `json:"sectionOrder"`
	SectionVisibility map[string]bool `json:"sectionVisibility"`
	EnableComments    bool            `json:"enableComments"`
	EnableDownloads   bool            `json:"enableDownloads"`
	IsPublic          bool            `json:"isPublic"`
	PasswordProtected bool            `json:"passwordProtected"`
	VisibleSections   []string        `json:"visibleSections"`
}

func toDeliveryView(ds *models.DeliverySettings) deliverySettingsView {
	return deliverySettingsView{
		SectionOrder:      ds.SectionOrder,
		SectionVisibility: ds.SectionVisibility,
		EnableComments:    ds.EnableComments,
		EnableDownloads:   ds.EnableDownloads,
		IsPublic:          ds.IsPublic,
		PasswordProtected: ds.PasswordProtected,
		VisibleSections:   deliverysvc.VisibleSections(ds.SectionOrder, ds.SectionVisibility),
	}
}

func (a *API) createJobCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientName string `json:"clientName"`
		Address    string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ClientName == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "clientName and address are required")
		return
	}

	card, err := a.jobs.CreateJobCard(r.Context(), models.JobCardCreateInput{
		ClientName: req.ClientName,
		Address:    req.Address,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobCardView(card))
}

func (a *API) listJobCards(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	cards, err := a.jobs.ListJobCards(r.Context(), limit, offset, status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]jobCardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, toJobCardView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobCards": views})
}

func (a *API) getJobCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	card, err := a.jobs.GetJobCard(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardView(card))
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := a.jobs.ListHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]historyView, 0, len(entries))
	for _, e := range entries {
		views = append(views, historyView{
			ID: e.ID, Action: e.Action, Actor: e.Actor, Role: e.Role,
			Notes: e.Notes, CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": views})
}

func (a *API) listActions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	specs, err := a.jobs.AvailableActions(r.Context(), id, r.Header.Get(headerActorRole), r.Header.Get(headerActorID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": specs})
}

func (a *API) executeAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	action := chi.URLParam(r, "action")

	// Тело опционально: {notes?}.
	var req struct {
		Notes string `json:"notes"`
	}
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	actor := r.Header.Get(headerActorID)
	role := r.Header.Get(headerActorRole)
	if actor == "" || role == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-Id and X-Actor-Role headers are required")
		return
	}

	card, err := a.jobs.ExecuteAction(r.Context(), id, action, role, actor, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobCardView(card))
}

func (a *API) getDeliverySettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ds, err := a.delivery.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryView(ds))
}

func (a *API) saveDeliverySettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	if err := validateDeliverySettingsBody(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		SectionOrder      []string        `json:"sectionOrder"`
		SectionVisibility map[string]bool `json:"sectionVisibility"`
		EnableComments    *bool           `json:"enableComments"`
		EnableDownloads   *bool           `json:"enableDownloads"`
		IsPublic          *bool           `json:"isPublic"`
		PasswordProtected *bool           `json:"passwordProtected"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	ds, err := a.delivery.Save(r.Context(), id, deliverysvc.SaveInput{
		SectionOrder:      req.SectionOrder,
		SectionVisibility: req.SectionVisibility,
		EnableComments:    req.EnableComments,
		EnableDownloads:   req.EnableDownloads,
		IsPublic:          req.IsPublic,
		PasswordProtected: req.PasswordProtected,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryView(ds))
}

func (a *API) resetDeliverySettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ds, err := a.delivery.Reset(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryView(ds))
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Все ошибки наружу уходят единым конвертом {message}, как их ждёт дашборд.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobcards.ErrNotFound),
		errors.Is(err, pgjobcards.ErrJobCardNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobcards.ErrSubmitInFlight),
		errors.Is(err, jobcards.ErrActionNotAllowed),
		errors.Is(err, pgjobcards.ErrTransitionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobcards.ErrNotesRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
