package jobcards_api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	deliverysvc "github.com/PropDesk/JobDesk/internal/services/delivery"
	"github.com/PropDesk/JobDesk/internal/services/jobcards"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
	"github.com/PropDesk/JobDesk/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// Простая in-memory реализация обоих репозиториев для httptest-прогона.
type memRepo struct {
	nextID   uint64
	cards    map[uint64]*models.JobCard
	history  map[uint64][]*models.HistoryEntry
	settings map[uint64]*models.DeliverySettings
}

func newMemRepo() *memRepo {
	return &memRepo{
		nextID:   1,
		cards:    map[uint64]*models.JobCard{},
		history:  map[uint64][]*models.HistoryEntry{},
		settings: map[uint64]*models.DeliverySettings{},
	}
}

func (m *memRepo) CreateJobCard(ctx context.Context, in models.JobCardCreateInput) (*models.JobCard, error) {
	now := time.Now().UTC()
	c := &models.JobCard{
		ID: m.nextID, ClientName: in.ClientName, Address: in.Address,
		NextChaseAt: now.Add(24 * time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	m.nextID++
	m.cards[c.ID] = c
	return c, nil
}

func (m *memRepo) GetJobCardsByIDs(ctx context.Context, ids []uint64) ([]*models.JobCard, error) {
	out := []*models.JobCard{}
	for _, id := range ids {
		if c, ok := m.cards[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memRepo) ListJobCards(ctx context.Context, limit, offset int) ([]*models.JobCard, error) {
	out := []*models.JobCard{}
	for _, c := range m.cards {
		out = append(out, c)
	}
	return out, nil
}

func (m *memRepo) ListHistory(ctx context.Context, jobCardID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	return m.history[jobCardID], nil
}

func (m *memRepo) ApplyTransition(ctx context.Context, t pgjobcards.Transition) (*models.JobCard, error) {
	c, ok := m.cards[t.JobCardID]
	if !ok {
		return nil, pgjobcards.ErrTransitionConflict
	}
	at := t.At
	switch t.Action {
	case workflow.ActionUpload:
		if c.UploadedAt != nil {
			return nil, pgjobcards.ErrTransitionConflict
		}
		c.UploadedAt = &at
	case workflow.ActionAccept:
		if c.AcceptedAt != nil {
			return nil, pgjobcards.ErrTransitionConflict
		}
		c.AcceptedAt = &at
		if c.AssignedEditor == nil && t.Actor != "" {
			actor := t.Actor
			c.AssignedEditor = &actor
		}
	case workflow.ActionReadyForQC:
		c.ReadyForQCAt = &at
		c.RevisionRequestedAt = nil
	case workflow.ActionRevision:
		if c.RevisionRequestedAt != nil {
			return nil, pgjobcards.ErrTransitionConflict
		}
		c.RevisionRequestedAt = &at
	case workflow.ActionDelivered:
		if c.DeliveredAt != nil {
			return nil, pgjobcards.ErrTransitionConflict
		}
		c.DeliveredAt = &at
	}
	var notes *string
	if t.Notes != "" {
		notes = &t.Notes
	}
	m.history[t.JobCardID] = append(m.history[t.JobCardID], &models.HistoryEntry{
		JobCardID: t.JobCardID, Action: string(t.Action), Actor: t.Actor, Role: t.Role,
		Notes: notes, CreatedAt: at,
	})
	return c, nil
}

func (m *memRepo) ApplyChaseUpdate(ctx context.Context, upd pgjobcards.ChaseUpdate) error {
	return nil
}

func (m *memRepo) GetDeliverySettings(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, bool, error) {
	ds, ok := m.settings[jobCardID]
	return ds, ok, nil
}

func (m *memRepo) UpsertDeliverySettings(ctx context.Context, ds *models.DeliverySettings) error {
	if _, ok := m.cards[ds.JobCardID]; !ok {
		return pgjobcards.ErrJobCardNotFound
	}
	cp := *ds
	m.settings[ds.JobCardID] = &cp
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := newMemRepo()
	jobsSvc := jobcards.New(repo, nil, nil, nil, "", 0)
	deliverySvc := deliverysvc.New(repo)

	r := chi.NewRouter()
	New(jobsSvc, deliverySvc).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func editorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "ed1", "X-Actor-Role": "editor"}
}

func TestAPI_JobCardLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	// Создание карточки.
	resp, card := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards",
		`{"clientName":"Ray White","address":"1 Beach Rd"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "PENDING", card["status"])
	require.Equal(t, "Pending", card["statusLabel"])

	// Фотограф загружает материал.
	resp, card = doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/upload", "",
		map[string]string{"X-Actor-Id": "ph1", "X-Actor-Role": "photographer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "UPLOADED", card["status"])

	// У редактора ровно одно действие: accept.
	resp, actions := doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/1/actions", "", editorHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := actions["actions"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, "accept", list[0].(map[string]any)["action"])

	// Accept с пустыми notes.
	resp, card = doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/accept", "", editorHeaders())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "IN_PROGRESS", card["status"])
	require.Equal(t, "ed1", card["assignedEditor"])

	// История пополнилась.
	resp, hist := doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/1/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, hist["history"].([]any), 2)
}

func TestAPI_RevisionRequiresNotes(t *testing.T) {
	srv, repo := newTestServer(t)

	now := time.Now().UTC()
	repo.cards[1] = &models.JobCard{
		ID: 1, ClientName: "C", Address: "A",
		UploadedAt: &now, AcceptedAt: &now, ReadyForQCAt: &now,
		CreatedAt: now, UpdatedAt: now,
	}

	reviewer := map[string]string{"X-Actor-Id": "rev1", "X-Actor-Role": "reviewer"}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/revision", "", reviewer)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["message"], "notes")

	resp, card := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/revision",
		`{"notes":"fix the twilight exposure"}`, reviewer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "IN_REVISION", card["status"])
}

func TestAPI_ActionRejections(t *testing.T) {
	srv, repo := newTestServer(t)

	now := time.Now().UTC()
	repo.cards[1] = &models.JobCard{ID: 1, ClientName: "C", Address: "A", UploadedAt: &now, CreatedAt: now, UpdatedAt: now}

	// Без заголовков личности.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/accept", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Роль без права на accept.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/1/actions/accept", "",
		map[string]string{"X-Actor-Id": "rev1", "X-Actor-Role": "reviewer"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotEmpty(t, body["message"])

	// Несуществующая карточка.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/job-cards/99/actions/accept", "", editorHeaders())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Кривой id.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/job-cards/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_DeliverySettingsDefaultsAndSave(t *testing.T) {
	srv, repo := newTestServer(t)

	now := time.Now().UTC()
	repo.cards[1] = &models.JobCard{ID: 1, ClientName: "C", Address: "A", CreatedAt: now, UpdatedAt: now}

	// Записи нет — отдаются дефолты.
	resp, ds := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/1/delivery-settings", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := ds["sectionOrder"].([]any)
	require.Equal(t, []any{"photos", "floor_plans", "video", "virtual_tour", "other_files"}, order)
	require.Equal(t, true, ds["enableComments"])
	require.Equal(t, false, ds["isPublic"])
	require.Len(t, ds["visibleSections"].([]any), 5)

	// Сохранение с частичным телом.
	resp, ds = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings",
		`{"sectionOrder":["video","photos","floor_plans","virtual_tour","other_files"],"sectionVisibility":{"floor_plans":false}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "video", ds["sectionOrder"].([]any)[0])
	require.Len(t, ds["visibleSections"].([]any), 4)

	// Обновление на месте через PUT.
	resp, ds = doJSON(t, http.MethodPut, srv.URL+"/api/jobs/1/delivery-settings", `{"isPublic":true}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, ds["isPublic"])
	require.Equal(t, "video", ds["sectionOrder"].([]any)[0])

	// Сброс к дефолтам.
	resp, ds = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings/reset", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "photos", ds["sectionOrder"].([]any)[0])
	require.Equal(t, false, ds["isPublic"])
}

func TestAPI_DeliverySettingsUnknownCard(t *testing.T) {
	srv, _ := newTestServer(t)

	// Сохранение и сброс для несуществующей карточки — 404, не 500.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/77/delivery-settings",
		`{"isPublic":true}`, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotEmpty(t, body["message"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/77/delivery-settings/reset", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DeliverySettingsSchemaValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// Неизвестное поле.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings",
		`{"heroShot":true}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotEmpty(t, body["message"])

	// Неизвестная секция в порядке.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings",
		`{"sectionOrder":["drone_footage"]}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Не-булево значение видимости.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings",
		`{"sectionVisibility":{"photos":"yes"}}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Пустое тело.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/1/delivery-settings", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
