package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/planning"
)

func records(base time.Time) []RunRecord {
	return []RunRecord{
		{RunID: "a", Timestamp: base, Status: "optimal", Horizon: 4, TargetsMet: true},
		{RunID: "b", Timestamp: base.Add(time.Minute), Status: "infeasible", Horizon: 2},
		{RunID: "c", Timestamp: base.Add(2 * time.Minute), Status: "optimal", Horizon: 3},
	}
}

func ids(recs []RunRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.RunID
	}
	return out
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, r := range records(base) {
		require.NoError(t, store.Append(ctx, r))
	}

	all, err := store.Query(ctx, RunQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))

	opt, err := store.Query(ctx, RunQuery{Status: "optimal"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(opt))

	window, err := store.Query(ctx, RunQuery{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(window))

	last, err := store.Query(ctx, RunQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(last))

	byID, err := store.Query(ctx, RunQuery{RunID: "c"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, 3, byID[0].Horizon)
}

func TestJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "runs.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestJSONLStore_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), RunRecord{RunID: "a", Timestamp: time.Now()}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("{broken\n")
	require.NoError(t, f.Close())

	out, err := store.Query(context.Background(), RunQuery{})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRotatingJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStore_ReadsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.jsonl")
	old, err := json.Marshal(RunRecord{RunID: "old", Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runs-2024-01-01T00-00-00.000.jsonl"), append(old, '\n'), 0o644))

	store, err := NewRotatingJSONLStore(path, 1, 2, 0)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	require.NoError(t, store.Append(context.Background(), RunRecord{RunID: "new", Timestamp: time.Now()}))

	out, err := store.Query(context.Background(), RunQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, ids(out))
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		cfg  Config
		want any
	}{
		{Config{Backend: "jsonl", Path: filepath.Join(dir, "a.jsonl")}, &JSONLStore{}},
		{Config{Backend: "jsonl", Path: filepath.Join(dir, "b.jsonl"), MaxSizeMB: 1}, &RotatingJSONLStore{}},
		{Config{Backend: "sqlite", Path: filepath.Join(dir, "c.db")}, &SQLiteStore{}},
	}
	for _, c := range cases {
		s, err := Open(c.cfg)
		require.NoError(t, err)
		assert.IsType(t, c.want, s)
		require.NoError(t, s.Close())
	}
	s, err := Open(Config{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)
	_, err = Open(Config{Backend: "csv"})
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "jsonl", c.Backend)
	assert.Equal(t, "runs.jsonl", c.Path)
	assert.NoError(t, c.Validate())

	c = Config{Backend: "sqlite"}
	c.SetDefaults()
	assert.Equal(t, "runs.db", c.Path)
	assert.Error(t, Config{Backend: "mongo", Path: "x"}.Validate())
}

func TestNewRunRecord(t *testing.T) {
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	res := &planning.Result{
		RunID: "r1", Horizon: 5, Status: milp.StatusOptimal, Objective: 42, Nodes: 7,
		Elapsed: 1500 * time.Microsecond, StartedAt: started,
		Schedule: &planning.Schedule{
			TargetsMet:  false,
			Shortfall:   map[string]float64{"K1": 3},
			Diagnostics: []planning.Diagnostic{{Resource: "F1", Step: 1, Message: "x"}},
			Metrics:     planning.Metrics{ResourcesUsed: 2},
		},
	}
	rec := NewRunRecord(res, "plan", errors.New("late"))
	assert.Equal(t, "optimal", rec.Status)
	assert.Equal(t, started, rec.Timestamp)
	assert.InDelta(t, 1.5, rec.ElapsedMS, 1e-9)
	assert.Equal(t, 2, rec.Metrics.ResourcesUsed)
	assert.Equal(t, 1, rec.Diagnostics)
	assert.Equal(t, 3.0, rec.Shortfall["K1"])
	assert.False(t, rec.TargetsMet)
	assert.Equal(t, "late", rec.Error)

	bare := NewRunRecord(&planning.Result{Status: milp.StatusInfeasible}, "search", nil)
	assert.Nil(t, bare.Metrics)
	assert.False(t, bare.Timestamp.IsZero())
}
