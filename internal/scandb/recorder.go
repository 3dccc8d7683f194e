package scandb

import (
	"context"

	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/scanner"
)

// Recorder persists scans as they run. OnStart and OnStop plug into
// scanner.Options; Publish receives every batch from the result hub.
type Recorder struct {
	db *DB
}

// NewRecorder returns a recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// Name identifies the recorder in hub logs.
func (r *Recorder) Name() string { return "scandb" }

// OnStart creates the session row.
func (r *Recorder) OnStart(s scanner.Session) {
	if err := r.db.CreateSession(context.Background(), s.ID, s.Started, s.Settings); err != nil {
		monitoring.Logf("scandb: %v", err)
	}
}

// OnStop stores the final point count, angle and error of the session.
func (r *Recorder) OnStop(s scanner.Session) {
	if err := r.db.FinishSession(context.Background(), s.ID, s.Finished, s.Points, s.Theta, s.Err); err != nil {
		monitoring.Logf("scandb: %v", err)
	}
}

// Publish stores one batch.
func (r *Recorder) Publish(ctx context.Context, res scanner.Result) error {
	return r.db.InsertBatch(ctx, res.Session, res.Batch)
}
