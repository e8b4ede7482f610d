package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/serialscope/internal/channel"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Session is one capture run between two resets.
type Session struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Source      string     `json:"source"`
	StartMarker string     `json:"start_marker"`
	EndMarker   string     `json:"end_marker"`
	ParsePolicy string     `json:"parse_policy"`
	Batches     int64      `json:"batches"`
	Evicted     int64      `json:"evicted"`
}

// SessionMeta describes how a session's frames were parsed.
type SessionMeta struct {
	Source      string
	StartMarker byte
	EndMarker   byte
	ParsePolicy string
}

// StoredSample is a sample read back from the database. Value is NaN when
// the token could not be parsed.
type StoredSample struct {
	Channel channel.ID `json:"channel"`
	Index   uint64     `json:"index"`
	Value   float64    `json:"value"`
}

// StartSession inserts a new open session.
func (db *DB) StartSession(ctx context.Context, meta SessionMeta) (Session, error) {
	s := Session{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Source:      meta.Source,
		StartMarker: string([]byte{meta.StartMarker}),
		EndMarker:   string([]byte{meta.EndMarker}),
		ParsePolicy: meta.ParsePolicy,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, source, start_marker, end_marker, parse_policy)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixNano(), s.Source, s.StartMarker, s.EndMarker, s.ParsePolicy)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the end time of an open session.
func (db *DB) EndSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &started, &ended, &s.Source, &s.StartMarker, &s.EndMarker, &s.ParsePolicy, &s.Batches, &s.Evicted); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.EndedAt = &t
	}
	return s, nil
}

const sessionColumns = `session_id, started_at, ended_at, source, start_marker, end_marker, parse_policy, batches, evicted`

// Sessions lists every session, newest first.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// GetSession returns one session.
func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// DeleteSession removes a session with its channels and samples.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// SessionChannels returns the channel table recorded for a session.
func (db *DB) SessionChannels(ctx context.Context, id string) ([]channel.Channel, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT channel_id, name, color, visible FROM channels
		WHERE session_id = ? ORDER BY channel_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []channel.Channel
	for rows.Next() {
		var (
			c   channel.Channel
			hex string
		)
		if err := rows.Scan(&c.ID, &c.Name, &hex, &c.Visible); err != nil {
			return nil, err
		}
		if c.Color, err = channel.ParseHexColor(hex); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SessionSamples returns a channel's samples with index in [from, to].
func (db *DB) SessionSamples(ctx context.Context, id string, ch channel.ID, from, to uint64) ([]StoredSample, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sample_index, value FROM samples
		WHERE session_id = ? AND channel_id = ? AND sample_index BETWEEN ? AND ?
		ORDER BY sample_index`, id, int(ch), int64(from), int64(min(to, math.MaxInt64)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSample
	for rows.Next() {
		var (
			idx int64
			v   sql.NullFloat64
		)
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, err
		}
		s := StoredSample{Channel: ch, Index: uint64(idx), Value: math.NaN()}
		if v.Valid {
			s.Value = v.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
