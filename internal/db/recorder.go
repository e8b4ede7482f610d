package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/dispatch"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/timeutil"
)

// DefaultFlushInterval is how often buffered batches are committed.
const DefaultFlushInterval = 250 * time.Millisecond

// maxPending forces a commit once this many batches are buffered.
const maxPending = 512

// BatchSource is the part of the dispatcher a Recorder needs.
type BatchSource interface {
	Subscribe() (string, <-chan dispatch.Batch)
	Unsubscribe(id string)
	Channels() []channel.Channel
}

// Recorder persists every batch published by a dispatcher. A session is
// opened lazily on the first batch and rotated when the dispatcher is reset,
// which shows up as the sample index going backwards. Detecting it in the
// batch stream keeps batches queued before the reset in the old session.
type Recorder struct {
	db            *DB
	src           BatchSource
	meta          SessionMeta
	flushInterval time.Duration
	clock         timeutil.Clock

	// owned by the Run goroutine
	session   *Session
	seen      bool
	lastIndex uint64
	pending   []dispatch.Batch
}

// NewRecorder wires a recorder to src. Call Run to start recording.
func NewRecorder(db *DB, src BatchSource, meta SessionMeta) *Recorder {
	return &Recorder{
		db:            db,
		src:           src,
		meta:          meta,
		flushInterval: DefaultFlushInterval,
		clock:         timeutil.RealClock{},
	}
}

// WithClock paces flushes from c. It must be called before Run.
func (r *Recorder) WithClock(c timeutil.Clock) *Recorder {
	r.clock = c
	return r
}

// Run records until ctx is done or the dispatcher closes, then flushes and
// ends the open session.
func (r *Recorder) Run(ctx context.Context) error {
	id, batches := r.src.Subscribe()
	defer r.src.Unsubscribe(id)

	ticker := r.clock.NewTicker(r.flushInterval)
	defer ticker.Stop()

	// the final flush must outlive ctx
	finish := func() error {
		bg := context.WithoutCancel(ctx)
		if err := r.flush(bg, true); err != nil {
			return err
		}
		return r.endSession(bg)
	}

	for {
		select {
		case <-ctx.Done():
			return finish()

		case b, ok := <-batches:
			if !ok {
				return finish()
			}
			if r.seen && b.Index <= r.lastIndex {
				// the channel table already belongs to the new run
				if err := r.flush(ctx, false); err != nil {
					return err
				}
				if err := r.endSession(ctx); err != nil {
					return err
				}
			}
			r.seen = true
			r.lastIndex = b.Index
			r.pending = append(r.pending, b)
			if len(r.pending) >= maxPending {
				if err := r.flush(ctx, true); err != nil {
					return err
				}
			}

		case <-ticker.C():
			if err := r.flush(ctx, true); err != nil {
				return err
			}
		}
	}
}

// Session returns the open session, if any. Only safe from the Run goroutine
// or after Run returns.
func (r *Recorder) Session() *Session {
	return r.session
}

func (r *Recorder) endSession(ctx context.Context) error {
	r.seen = false
	r.lastIndex = 0
	if r.session == nil {
		return nil
	}
	id := r.session.ID
	r.session = nil
	if err := r.db.EndSession(ctx, id); err != nil {
		return err
	}
	monitoring.Logf("session %s ended", id)
	return nil
}

// flush commits pending batches and the current channel table in one
// transaction. Without overwrite, rows already stored for the session are
// kept and only missing channels are added.
func (r *Recorder) flush(ctx context.Context, overwrite bool) error {
	if len(r.pending) == 0 {
		return nil
	}
	if r.session == nil {
		s, err := r.db.StartSession(ctx, r.meta)
		if err != nil {
			return err
		}
		r.session = &s
		monitoring.Logf("session %s started", s.ID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sampleStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO samples (session_id, sample_index, channel_id, value)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()

	var evicted int64
	for _, b := range r.pending {
		for _, id := range b.IDs() {
			var v any = b.Values[id]
			if math.IsNaN(b.Values[id]) {
				v = nil
			}
			if _, err := sampleStmt.ExecContext(ctx, r.session.ID, int64(b.Index), int(id), v); err != nil {
				return fmt.Errorf("failed to insert sample: %w", err)
			}
		}
		evicted += int64(b.Evicted)
	}

	channelSQL := `
		INSERT INTO channels (session_id, channel_id, name, color, visible)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, channel_id) DO UPDATE SET
			name = excluded.name, color = excluded.color, visible = excluded.visible`
	if !overwrite {
		channelSQL = `
		INSERT INTO channels (session_id, channel_id, name, color, visible)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, channel_id) DO NOTHING`
	}
	for _, c := range r.src.Channels() {
		if _, err := tx.ExecContext(ctx, channelSQL,
			r.session.ID, int(c.ID), c.Name, channel.Hex(c.Color), c.Visible); err != nil {
			return fmt.Errorf("failed to upsert channel: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET batches = batches + ?, evicted = evicted + ? WHERE session_id = ?`,
		len(r.pending), evicted, r.session.ID); err != nil {
		return fmt.Errorf("failed to update session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batches: %w", err)
	}
	r.pending = r.pending[:0]
	return nil
}
