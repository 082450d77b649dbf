package sqlitestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/calibration"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaze.db")
	s, err := Open(context.Background(), path, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func testModel(id string, created time.Time) *calibration.Model {
	tr := calibration.AffineTransform{A: 1.02, B: 0.01, C: -12, D: 0, E: 0.97, F: 8}
	return &calibration.Model{
		ID:              id,
		Transform:       &tr,
		ReferenceWidth:  1440,
		ReferenceHeight: 900,
		CreatedAt:       created,
		Grid: &calibration.ResidualGrid{
			Size: 2,
			DX:   []float64{5, -5, 5, -5},
			DY:   []float64{0, 1, 2, 3},
		},
	}
}

func TestOpen_Migrates(t *testing.T) {
	s, _ := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
	assert.Nil(t, s.ReadModel())

	_, err = s.Active(context.Background())
	assert.ErrorIs(t, err, calibration.ErrNoModel)
}

func TestSave_RoundTripsAndPublishes(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var notified []*calibration.Model
	cancel := s.Subscribe(func(m *calibration.Model) { notified = append(notified, m) })
	defer cancel()

	m := testModel("m1", time.UnixMilli(1700000000000).UTC())
	samples := []calibration.Sample{
		{RawX: 1, RawY: 2, TargetX: 3, TargetY: 4},
		{RawX: 5, RawY: 6, TargetX: 7, TargetY: 8},
	}
	require.NoError(t, s.Save(ctx, m, samples))

	require.Len(t, notified, 1)
	assert.Same(t, m, s.ReadModel())

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m, got)

	gotSamples, err := s.Samples(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, samples, gotSamples)
}

func TestSave_FillsIDAndRejectsInvalid(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	m := &calibration.Model{ReferenceWidth: 800, ReferenceHeight: 600}
	require.NoError(t, s.Save(ctx, m, nil))
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	bad := &calibration.Model{Grid: &calibration.ResidualGrid{Size: 3, DX: []float64{1}}}
	assert.ErrorIs(t, s.Save(ctx, bad, nil), calibration.ErrInvalidGrid)
}

func TestActivateAndList(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000).UTC()
	require.NoError(t, s.Save(ctx, testModel("old", base), nil))
	require.NoError(t, s.Save(ctx, testModel("new", base.Add(time.Minute)), nil))
	assert.Equal(t, "new", s.ReadModel().ID)

	list, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)

	require.NoError(t, s.Activate(ctx, "old"))
	assert.Equal(t, "old", s.ReadModel().ID)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", active.ID)

	assert.ErrorIs(t, s.Activate(ctx, "missing"), ErrNotFound)
}

func TestDeleteActiveClearsModel(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testModel("only", time.Now().UTC()), []calibration.Sample{{RawX: 1}}))
	require.NoError(t, s.Delete(ctx, "only"))
	assert.Nil(t, s.ReadModel())

	samples, err := s.Samples(ctx, "only")
	require.NoError(t, err)
	assert.Empty(t, samples)

	assert.ErrorIs(t, s.Delete(ctx, "only"), ErrNotFound)
}

func TestReopenRestoresActive(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testModel("persisted", time.UnixMilli(1700000000000).UTC()), nil))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path, log.Discard())
	require.NoError(t, err)
	defer reopened.Close()

	require.NotNil(t, reopened.ReadModel())
	assert.Equal(t, "persisted", reopened.ReadModel().ID)
	assert.True(t, reopened.ReadModel().Grid.Valid())
}

func TestConcurrentSavesPublishActiveRow(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, testModel(fmt.Sprintf("m%d", i), now), nil))
		}(i)
	}
	wg.Wait()

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.ReadModel())
	assert.Equal(t, active.ID, s.ReadModel().ID)
}
