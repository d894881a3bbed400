package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/events"
)

// ProfileStore remembers per-account choices and records probe samples
// and login failures. Passwords are never stored.
type ProfileStore struct {
	db  *Database
	now func() time.Time
}

// Profile is the remembered state of one account.
type Profile struct {
	Account       string    `json:"account"`
	LastServer    string    `json:"last_server"`
	LastCharacter string    `json:"last_character"`
	LastSlot      int       `json:"last_slot"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PingSample is one recorded probe result.
type PingSample struct {
	Server     string    `json:"server"`
	IP         string    `json:"ip"`
	Reachable  bool      `json:"reachable"`
	LastMs     int64     `json:"last_ms"`
	AverageMs  int64     `json:"average_ms"`
	PacketLoss int       `json:"packet_loss"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Failure is one recorded connection failure or server error.
type Failure struct {
	ID         int       `json:"id"`
	Kind       string    `json:"kind"`
	Code       int       `json:"code"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ErrProfileNotFound is returned when an account has no profile.
var ErrProfileNotFound = errors.New("profile not found")

// NewProfileStore opens the database at dbPath and migrates the schema.
func NewProfileStore(dbPath string) (*ProfileStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	ps := &ProfileStore{db: database, now: time.Now}
	if err := ps.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate profile database: %w", err)
	}
	return ps, nil
}

// Close closes the underlying database.
func (ps *ProfileStore) Close() error {
	return ps.db.Close()
}

func (ps *ProfileStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			account TEXT PRIMARY KEY,
			last_server TEXT NOT NULL DEFAULT '',
			last_character TEXT NOT NULL DEFAULT '',
			last_slot INTEGER NOT NULL DEFAULT -1,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ping_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server TEXT NOT NULL,
			ip TEXT NOT NULL,
			reachable INTEGER NOT NULL,
			last_ms INTEGER NOT NULL,
			average_ms INTEGER NOT NULL,
			packet_loss INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			code INTEGER NOT NULL,
			message TEXT NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ping_history_server ON ping_history(server, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_ping_history_recorded ON ping_history(recorded_at);
	`

	if _, err := ps.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}

// SaveLastServer records the shard chosen by account.
func (ps *ProfileStore) SaveLastServer(ctx context.Context, account, server string) error {
	_, err := ps.db.Exec(ctx, `
		INSERT INTO profiles (account, last_server, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET last_server = excluded.last_server, updated_at = excluded.updated_at`,
		account, server, ps.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save last server for %s: %w", account, err)
	}
	return nil
}

// SaveLastCharacter records the character account entered the world with.
func (ps *ProfileStore) SaveLastCharacter(ctx context.Context, account, server, character string, slot int) error {
	_, err := ps.db.Exec(ctx, `
		INSERT INTO profiles (account, last_server, last_character, last_slot, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			last_server = CASE WHEN excluded.last_server = '' THEN profiles.last_server ELSE excluded.last_server END,
			last_character = excluded.last_character,
			last_slot = excluded.last_slot,
			updated_at = excluded.updated_at`,
		account, server, character, slot, ps.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save last character for %s: %w", account, err)
	}
	return nil
}

// GetProfile returns the stored profile of account.
func (ps *ProfileStore) GetProfile(ctx context.Context, account string) (*Profile, error) {
	var (
		p       Profile
		updated int64
	)
	err := ps.db.QueryRow(ctx,
		"SELECT account, last_server, last_character, last_slot, updated_at FROM profiles WHERE account = ?",
		account).Scan(&p.Account, &p.LastServer, &p.LastCharacter, &p.LastSlot, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", account, err)
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return &p, nil
}

// RecordPing appends a probe sample.
func (ps *ProfileStore) RecordPing(ctx context.Context, s PingSample) error {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = ps.now()
	}
	reachable := 0
	if s.Reachable {
		reachable = 1
	}
	_, err := ps.db.Exec(ctx, `
		INSERT INTO ping_history (server, ip, reachable, last_ms, average_ms, packet_loss, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Server, s.IP, reachable, s.LastMs, s.AverageMs, s.PacketLoss, s.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record ping for %s: %w", s.Server, err)
	}
	return nil
}

// PingHistory returns the newest samples of server, newest first.
func (ps *ProfileStore) PingHistory(ctx context.Context, server string, limit int) ([]PingSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := ps.db.Query(ctx, `
		SELECT server, ip, reachable, last_ms, average_ms, packet_loss, recorded_at
		FROM ping_history WHERE server = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		server, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ping history: %w", err)
	}
	defer rows.Close()

	var samples []PingSample
	for rows.Next() {
		var (
			s         PingSample
			reachable int
			recorded  int64
		)
		if err := rows.Scan(&s.Server, &s.IP, &reachable, &s.LastMs, &s.AverageMs, &s.PacketLoss, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan ping sample: %w", err)
		}
		s.Reachable = reachable == 1
		s.RecordedAt = time.UnixMilli(recorded)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// RecordFailure appends a failure entry.
func (ps *ProfileStore) RecordFailure(ctx context.Context, kind string, code int, message string) error {
	_, err := ps.db.Exec(ctx,
		"INSERT INTO failures (kind, code, message, recorded_at) VALUES (?, ?, ?, ?)",
		kind, code, message, ps.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// RecentFailures returns the newest failure entries.
func (ps *ProfileStore) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := ps.db.Query(ctx,
		"SELECT id, kind, code, message, recorded_at FROM failures ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var (
			f        Failure
			recorded int64
		)
		if err := rows.Scan(&f.ID, &f.Kind, &f.Code, &f.Message, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.RecordedAt = time.UnixMilli(recorded)
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// PruneBefore deletes ping samples and failures older than cutoff and
// returns the number of removed rows.
func (ps *ProfileStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := ps.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"ping_history", "failures"} {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", cutoff.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to prune %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	return removed, err
}

// Attach subscribes the store to the login events it records.
func (ps *ProfileStore) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventServerSelected, "profile_store", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.ServerSelectedPayload)
		if !ok || p.Account == "" {
			return nil
		}
		return ps.SaveLastServer(ctx, p.Account, p.Name)
	})

	bus.Subscribe(events.EventCharacterSelected, "profile_store", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.CharacterSelectedPayload)
		if !ok || p.Account == "" {
			return nil
		}
		return ps.SaveLastCharacter(ctx, p.Account, p.Server, p.Name, p.Slot)
	})

	bus.Subscribe(events.EventPingSample, "profile_store", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.PingSamplePayload)
		if !ok || !p.Completed {
			return nil
		}
		return ps.RecordPing(ctx, PingSample{
			Server:     p.Server,
			IP:         p.IP,
			Reachable:  p.Reachable,
			LastMs:     p.LastMs,
			AverageMs:  p.AverageMs,
			PacketLoss: p.PacketLoss,
		})
	})

	bus.Subscribe(events.EventConnectionFailed, "profile_store", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.ConnectionFailedPayload)
		if !ok {
			return nil
		}
		return ps.RecordFailure(ctx, p.Reason, p.Code, p.Message)
	})

	bus.Subscribe(events.EventLoginError, "profile_store", func(ctx context.Context, ev events.Event) error {
		p, ok := ev.Payload.(events.LoginErrorPayload)
		if !ok {
			return nil
		}
		return ps.RecordFailure(ctx, fmt.Sprintf("login_error_0x%02X", p.PacketID), int(p.Code), p.Message)
	})
}
