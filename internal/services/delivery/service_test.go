package delivery

import (
	"context"
	"testing"

	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	stored map[uint64]*models.DeliverySettings
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: map[uint64]*models.DeliverySettings{}}
}

func (f *fakeRepo) GetDeliverySettings(ctx context.Context, jobCardID uint64) (*models.DeliverySettings, bool, error) {
	ds, ok := f.stored[jobCardID]
	return ds, ok, nil
}

func (f *fakeRepo) UpsertDeliverySettings(ctx context.Context, ds *models.DeliverySettings) error {
	cp := *ds
	f.stored[ds.JobCardID] = &cp
	return nil
}

func TestService_Get_DefaultsWhenAbsent(t *testing.T) {
	s := New(newFakeRepo())

	ds, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"photos", "floor_plans", "video", "virtual_tour", "other_files"}, ds.SectionOrder)
	for _, k := range ds.SectionOrder {
		require.True(t, ds.SectionVisibility[k])
	}
	require.True(t, ds.EnableComments)
	require.True(t, ds.EnableDownloads)
	require.False(t, ds.IsPublic)
	require.False(t, ds.PasswordProtected)
}

func TestService_Save_CreatesThenUpdatesInPlace(t *testing.T) {
	r := newFakeRepo()
	s := New(r)

	// Первое сохранение: часть полей не задана — берутся дефолты.
	tru := true
	ds, err := s.Save(context.Background(), 1, SaveInput{
		SectionOrder: []string{"video", "photos", "floor_plans", "virtual_tour", "other_files"},
		IsPublic:     &tru,
	})
	require.NoError(t, err)
	require.Equal(t, "video", ds.SectionOrder[0])
	require.True(t, ds.IsPublic)
	require.True(t, ds.EnableComments) // дефолт
	require.Len(t, r.stored, 1)

	// Второе сохранение меняет только присланное.
	fls := false
	ds, err = s.Save(context.Background(), 1, SaveInput{EnableComments: &fls})
	require.NoError(t, err)
	require.False(t, ds.EnableComments)
	require.Equal(t, "video", ds.SectionOrder[0]) // порядок уцелел
	require.True(t, ds.IsPublic)
	require.Len(t, r.stored, 1)
}

func TestService_Save_NormalizesBrokenOrder(t *testing.T) {
	s := New(newFakeRepo())

	ds, err := s.Save(context.Background(), 1, SaveInput{
		SectionOrder:      []string{"photos", "photos", "banner"},
		SectionVisibility: map[string]bool{"photos": false, "banner": true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"photos", "floor_plans", "video", "virtual_tour", "other_files"}, ds.SectionOrder)
	require.False(t, ds.SectionVisibility["photos"])
	_, hasBanner := ds.SectionVisibility["banner"]
	require.False(t, hasBanner)
}

func TestService_Reset(t *testing.T) {
	r := newFakeRepo()
	s := New(r)

	tru := true
	_, err := s.Save(context.Background(), 1, SaveInput{IsPublic: &tru})
	require.NoError(t, err)

	ds, err := s.Reset(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ds.IsPublic)
	require.Equal(t, DefaultSectionOrder(), ds.SectionOrder)

	got, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, got.IsPublic)
}
