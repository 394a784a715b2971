package database

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(t.TempDir(), monitoring.NewLoggerWithWriter(io.Discard, "error"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePrediction(label string, createdAt time.Time) *Prediction {
	p := NewPrediction("psoriasis-onset", "1.0.0")
	p.RequestID = "req-1"
	p.ClassIndex = 1
	p.Label = label
	p.Score = 0.6
	p.Scores = []float64{0.13, 0.6}
	p.Record = map[string]float64{"a": 1, "b": 18.3}
	p.CreatedAt = createdAt
	return p
}

func TestRepository_RoundTrip(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	agrees := true
	p := samplePrediction("Y", time.Now().UTC().Truncate(time.Millisecond))
	p.NativeAgrees = &agrees
	require.NoError(t, repo.InsertPrediction(ctx, p))

	got, err := repo.GetPrediction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	t.Run("null native agreement", func(t *testing.T) {
		q := samplePrediction("X", time.Now().UTC().Truncate(time.Millisecond))
		require.NoError(t, repo.InsertPrediction(ctx, q))
		got, err := repo.GetPrediction(ctx, q.ID)
		require.NoError(t, err)
		assert.Nil(t, got.NativeAgrees)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := repo.GetPrediction(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate id", func(t *testing.T) {
		assert.Error(t, repo.InsertPrediction(ctx, p))
	})
}

func TestRepository_LabelCounts(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	for _, label := range []string{"Y", "X", "Y"} {
		require.NoError(t, repo.InsertPrediction(ctx, samplePrediction(label, time.Now())))
	}

	counts, err := repo.LabelCounts(ctx, "psoriasis-onset")
	require.NoError(t, err)
	assert.Equal(t, []LabelCount{{Label: "X", Count: 1}, {Label: "Y", Count: 2}}, counts)
}

func TestAuditService_PurgeOlderThan(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := samplePrediction("X", now.AddDate(0, 0, -400))
	recent := samplePrediction("Y", now.AddDate(0, 0, -10))
	require.NoError(t, repo.InsertPrediction(ctx, old))
	require.NoError(t, repo.InsertPrediction(ctx, recent))

	svc := NewAuditService(repo, AuditConfig{RetentionDays: 365}, monitoring.NewLoggerWithWriter(io.Discard, "error"))
	defer svc.Close()
	svc.now = func() time.Time { return now }

	n, err := svc.PurgeOlderThan(ctx, 365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestAuditService_RecordIsAsync(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	svc := NewAuditService(repo, AuditConfig{QueueSize: 8}, monitoring.NewLoggerWithWriter(io.Discard, "error"))

	p := samplePrediction("Y", time.Now())
	assert.True(t, svc.Record(p))

	// Close drains the queue
	svc.Close()
	assert.False(t, svc.Record(samplePrediction("Y", time.Now())))

	got, err := repo.GetPrediction(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Y", got.Label)
}

func TestDB_PoolStats(t *testing.T) {
	db := newTestDB(t)
	stats := db.GetPoolStats()
	assert.Equal(t, 4, stats["max_open_connections"])

	_, err := db.GetPreparedStatement("nope")
	assert.Error(t, err)
}

func TestRepository_LabelCountsEmpty(t *testing.T) {
	counts, err := NewRepository(newTestDB(t)).LabelCounts(context.Background(), "psoriasis-onset")
	require.NoError(t, err)
	assert.NotNil(t, counts)
	assert.Empty(t, counts)
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "busy", err: sqlite3.Error{Code: sqlite3.ErrBusy}, want: true},
		{name: "locked wrapped", err: fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), want: true},
		{name: "constraint", err: sqlite3.Error{Code: sqlite3.ErrConstraint}, want: false},
		{name: "other", err: fmt.Errorf("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBusy(tt.err))
		})
	}
}
