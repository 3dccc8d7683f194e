package scandb

import (
	"compress/gzip"
	"context"
	"errors"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/scanner"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testBatch(seq uint64, n int) cloud.Batch {
	b := cloud.Batch{Seq: seq, Theta: float64(seq) * 0.45, Step: 0.45}
	for i := 0; i < n; i++ {
		b.Points = append(b.Points, cloud.Point{X: float64(i), Y: float64(seq), Z: 1.5})
		b.Colors = append(b.Colors, color.RGBA{R: uint8(i), G: 2, B: 3, A: 255})
	}
	return b
}

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)
	v, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	v, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	settings := config.NewSettings(nil).Snapshot()

	require.NoError(t, db.CreateSession(ctx, "s1", started, settings))
	require.NoError(t, db.InsertBatch(ctx, "s1", testBatch(0, 3)))
	require.NoError(t, db.InsertBatch(ctx, "s1", testBatch(1, 0)))
	require.NoError(t, db.InsertBatch(ctx, "s1", testBatch(2, 2)))
	require.NoError(t, db.FinishSession(ctx, "s1", started.Add(time.Minute), 5, 1.35, errors.New("camera unplugged")))

	s, err := db.Session(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, started.Equal(s.Started))
	require.NotNil(t, s.Finished)
	assert.True(t, started.Add(time.Minute).Equal(*s.Finished))
	assert.Equal(t, 5, s.Points)
	assert.Equal(t, "camera unplugged", s.Error)
	assert.Equal(t, settings, s.Settings)

	c, err := db.LoadCloud(ctx, "s1")
	require.NoError(t, err)
	want := cloud.NewCloud([]cloud.Batch{testBatch(0, 3), testBatch(1, 0), testBatch(2, 2)})
	if diff := cmp.Diff(want, c, cmp.AllowUnexported(cloud.Cloud{}), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("LoadCloud mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, c.Len())
}

func TestSessions_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateSession(ctx, id, base.Add(time.Duration(i)*time.Hour), config.Snapshot{}))
	}

	got, err := db.Sessions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Nil(t, got[0].Finished)
}

func TestNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.LoadCloud(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.FinishSession(ctx, "missing", time.Now(), 0, 0, nil), ErrNotFound)
	assert.ErrorIs(t, db.DeleteSession(ctx, "missing"), ErrNotFound)
	assert.Error(t, db.InsertBatch(ctx, "missing", testBatch(0, 1)), "foreign key rejects orphan batch")
}

func TestDeleteSession_Cascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateSession(ctx, "s1", time.Now(), config.Snapshot{}))
	require.NoError(t, db.InsertBatch(ctx, "s1", testBatch(0, 4)))
	require.NoError(t, db.DeleteSession(ctx, "s1"))

	st, err := db.Stats()
	require.NoError(t, err)
	for _, table := range st.Tables {
		assert.Zero(t, table.RowCount, table.Name)
	}
}

func TestRecorder(t *testing.T) {
	db := openTestDB(t)
	rec := NewRecorder(db)
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rec.OnStart(scanner.Session{ID: "run", Started: started})
	require.NoError(t, rec.Publish(context.Background(), scanner.Result{Session: "run", Batch: testBatch(0, 2)}))
	rec.OnStop(scanner.Session{ID: "run", Started: started, Finished: started.Add(time.Second), Points: 2, Theta: 360})

	s, err := db.Session(context.Background(), "run")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Points)
	assert.Equal(t, 360.0, s.Theta)
	assert.Empty(t, s.Error)
	assert.Equal(t, "scandb", rec.Name())
}

func TestAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.CreateSession(context.Background(), "s1", time.Now(), config.Snapshot{}))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, endpoint := range []string{"/debug/tailsql/", "/debug/db-stats"} {
		req := httptest.NewRequest(http.MethodGet, endpoint, nil)
		req.RemoteAddr = "127.0.0.1:1234"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, endpoint)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, len(raw) > 16 && string(raw[:15]) == "SQLite format 3", "backup is a SQLite file")
}

func TestPackRGB(t *testing.T) {
	c := color.RGBA{R: 255, G: 128, B: 1, A: 255}
	assert.Equal(t, int64(0xff8001), packRGB(c))
	assert.Equal(t, c, unpackRGB(packRGB(c)))
}
