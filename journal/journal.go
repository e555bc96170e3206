// Package journal records client lifecycle events in a SQLite database so
// connects and disconnects can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/events"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS client_events (
	id          TEXT PRIMARY KEY,
	ts          INTEGER NOT NULL,
	server      TEXT NOT NULL,
	type        TEXT NOT NULL,
	client_id   INTEGER NOT NULL,
	key_id      INTEGER,
	common_name TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	env         TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS client_events_ts ON client_events (ts);
CREATE INDEX IF NOT EXISTS client_events_cn ON client_events (common_name, ts);
`

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("journal entry not found")

const entryCols = "id, ts, server, type, client_id, key_id, common_name, address, env"

// Entry is one recorded client event.
type Entry struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Server     string    `json:"server"`
	Type       string    `json:"type"`
	ClientID   int       `json:"client_id"`
	KeyID      *int      `json:"key_id,omitempty"`
	CommonName string    `json:"common_name"`
	// Address is the ADDRESS payload, or the untrusted_ip of the ENV block.
	Address     string            `json:"address"`
	Environment map[string]string `json:"env"`
}

// Journal is an append-only log of client events for one daemon.
type Journal struct {
	db     *sql.DB
	server string
	log    common.Logger
	now    func() time.Time
}

// Open opens or creates the journal at path. server labels every entry
// recorded through this handle.
func Open(ctx context.Context, path, server string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	j := &Journal{
		db:     db,
		server: server,
		log:    common.Named("journal"),
		now:    time.Now,
	}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating journal schema: %w", err)
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)`,
		schemaVersion, j.now().Unix())
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores ev and returns the entry written.
func (j *Journal) Record(ctx context.Context, ev *events.ClientEvent) (Entry, error) {
	entry := Entry{
		ID:          uuid.NewString(),
		Time:        j.now(),
		Server:      j.server,
		Type:        ev.Type,
		ClientID:    ev.ClientID,
		KeyID:       ev.KeyID,
		CommonName:  ev.CommonName(),
		Address:     ev.Address,
		Environment: ev.Environment,
	}
	if entry.Address == "" {
		entry.Address, _ = ev.Env("untrusted_ip")
	}

	env := ev.Environment
	if env == nil {
		env = map[string]string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding environment: %w", err)
	}

	var keyID sql.NullInt64
	if entry.KeyID != nil {
		keyID = sql.NullInt64{Int64: int64(*entry.KeyID), Valid: true}
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO client_events (`+entryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Time.UnixNano(), entry.Server, entry.Type, entry.ClientID,
		keyID, entry.CommonName, entry.Address, string(envJSON))
	if err != nil {
		return Entry{}, fmt.Errorf("recording client event: %w", err)
	}
	return entry, nil
}

// HandleEvent records client events delivered by the dispatcher and
// ignores every other kind.
func (j *Journal) HandleEvent(ev events.Event) error {
	ce, ok := ev.(*events.ClientEvent)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, err := j.Record(ctx, ce)
	if err != nil {
		return err
	}
	j.log.Debug("Recorded %s for client %d (%s)", entry.Type, entry.ClientID, entry.ID)
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.query(ctx,
		`SELECT `+entryCols+` FROM client_events ORDER BY ts DESC, rowid DESC LIMIT ?`,
		normalizeLimit(limit))
}

// ByCommonName returns up to limit entries for one certificate common
// name, newest first.
func (j *Journal) ByCommonName(ctx context.Context, commonName string, limit int) ([]Entry, error) {
	return j.query(ctx,
		`SELECT `+entryCols+` FROM client_events WHERE common_name = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		commonName, normalizeLimit(limit))
}

// Get returns the entry with id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Entry{}, fmt.Errorf("%w: invalid entry id %q", common.ErrInvalidConfig, id)
	}
	entries, err := j.query(ctx, `SELECT `+entryCols+` FROM client_events WHERE id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

// Prune deletes entries older than retention and reports how many went.
// A zero retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-retention).UnixNano()
	res, err := j.db.ExecContext(ctx, `DELETE FROM client_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.log.Info("Pruned %d journal entries older than %s", n, retention)
	}
	return n, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func (j *Journal) query(ctx context.Context, query string, args ...interface{}) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			ts    int64
			keyID sql.NullInt64
			env   string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Server, &e.Type, &e.ClientID, &keyID, &e.CommonName, &e.Address, &env); err != nil {
			return nil, fmt.Errorf("reading journal: %w", err)
		}
		e.Time = time.Unix(0, ts)
		if keyID.Valid {
			k := int(keyID.Int64)
			e.KeyID = &k
		}
		if err := json.Unmarshal([]byte(env), &e.Environment); err != nil {
			return nil, fmt.Errorf("decoding environment of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
