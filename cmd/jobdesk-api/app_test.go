package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/PropDesk/JobDesk/internal/services/delivery"
	"github.com/PropDesk/JobDesk/internal/services/jobcards"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateJobCard(ctx context.Context, in models.JobCardCreateInput) (*models.JobCard, error) {
	return &models.JobCard{ID: 1, ClientName: in.ClientName, Address: in.Address}, nil
}
func (r *fakeRepo) GetJobCardsByIDs(ctx context.Context, ids []uint64) ([]*models.JobCard, error) {
	return []*models.JobCard{}, nil
}
func (r *fakeRepo) ListJobCards(ctx context.Context, limit, offset int) ([]*models.JobCard, error) {
	return []*models.JobCard{}, nil
}
func (r *fakeRepo) ListHistory(ctx context.Context, jobCardID uint64, limit, offset int) ([]*models.HistoryEntry, error) {
	return []*models.HistoryEntry{}, nil
}
func (r *fakeRepo) ApplyTransition(ctx context.Context, t pgjobcards.Transition) (*models.JobCard, error) {
	return nil, pgjobcards.ErrTransitionConflict
}
func (r *fakeRepo) ApplyChaseUpdate(ctx context.Context, upd pgjobcards.ChaseUpdate) error {
	return nil
}
func (r *fakeRepo) GetDeliverySettings(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, bool, error) {
	return nil, false, nil
}
func (r *fakeRepo) UpsertDeliverySettings(ctx context.Context, ds *models.DeliverySettings) error {
	return nil
}

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunJobDeskAPI_ServesHTTP(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	repo := &fakeRepo{}
	jobsSvc := jobcards.New(repo, nil, nil, nil, "", time.Minute)
	deliverySvc := delivery.New(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := jobDeskAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		updatedTopic:  "jobcard.updated",
		staleTopic:    "jobcard.stale",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runJobDeskAPI(ctx, opts, jobsSvc, deliverySvc, fakeConsumer{}, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	// Маршруты API смонтированы.
	resp, err = http.Get("http://" + httpAddr + "/api/job-cards")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	cancel()
	require.Error(t, <-errCh)
}

func TestRunJobDeskAPI_RequiresSwaggerFile(t *testing.T) {
	err := runJobDeskAPI(context.Background(), jobDeskAPIOpts{httpAddr: "127.0.0.1:0"}, nil, nil, fakeConsumer{}, fakeConsumer{})
	require.Error(t, err)

	err = runJobDeskAPI(context.Background(), jobDeskAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: "/nonexistent/swagger.json",
	}, nil, nil, fakeConsumer{}, fakeConsumer{})
	require.Error(t, err)
}
