package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/numisworks/coindex/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// appendMu serializes event appends. Reads stay concurrent; the log
	// is single-writer so interleaved appends cannot corrupt seq order.
	appendMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS coins (
	id         TEXT PRIMARY KEY,
	issuer     TEXT,
	mint       TEXT,
	year_start INTEGER,
	year_end   INTEGER,
	state      TEXT,
	grade      TEXT,
	weight     TEXT,
	diameter   TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS discrepancies (
	id             TEXT PRIMARY KEY,
	identity_hash  TEXT NOT NULL,
	coin_id        TEXT NOT NULL REFERENCES coins(id),
	field          TEXT NOT NULL,
	current_value  TEXT,
	external_value TEXT,
	confidence     REAL NOT NULL,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'open',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at    DATETIME
);

CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL UNIQUE,
	coin_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	occurred_at DATETIME NOT NULL,
	payload     TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_discrepancies_open_identity
	ON discrepancies(identity_hash) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_discrepancies_coin_status ON discrepancies(coin_id, status);
CREATE INDEX IF NOT EXISTS idx_discrepancies_source ON discrepancies(source);
CREATE INDEX IF NOT EXISTS idx_events_coin_id ON events(coin_id);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Coins

func (s *SQLiteStore) CreateCoin(ctx context.Context, coin *model.Coin) error {
	if coin.ID == "" {
		coin.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	coin.CreatedAt = now
	coin.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coins (id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coin.ID, coin.Issuer, coin.Mint, coin.YearStart, coin.YearEnd,
		coin.State, coin.Grade, coin.Weight, coin.Diameter, now, now,
	)
	return eris.Wrap(err, "sqlite: insert coin")
}

func (s *SQLiteStore) GetCoin(ctx context.Context, id string) (*model.Coin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at
		 FROM coins WHERE id = ?`,
		id,
	)
	return scanCoin(row)
}

func (s *SQLiteStore) ListCoins(ctx context.Context, limit, offset int) ([]model.Coin, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at
		 FROM coins ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list coins")
	}
	defer rows.Close()

	var coins []model.Coin
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, *c)
	}
	return coins, eris.Wrap(rows.Err(), "sqlite: list coins iterate")
}

func (s *SQLiteStore) ListCoinIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM coins ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list coin ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coin id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list coin ids iterate")
}

func (s *SQLiteStore) UpdateCoinField(ctx context.Context, id string, field model.FieldName, value string) error {
	col, ok := coinColumn(field)
	if !ok {
		return eris.Errorf("sqlite: field %q not updatable", field)
	}

	arg, err := coinFieldArg(field, value)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE coins SET `+col+` = ?, updated_at = ? WHERE id = ?`,
		arg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update coin %s field %s", id, field)
	}
	return checkRowsAffected(res, "coin", id)
}

func (s *SQLiteStore) DeleteCoin(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM coins WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete coin %s", id)
	}
	return checkRowsAffected(res, "coin", id)
}

// Discrepancies

func (s *SQLiteStore) InsertDiscrepancies(ctx context.Context, ds []model.Discrepancy) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert discrepancies")
	}
	defer tx.Rollback()

	inserted := 0
	for i := range ds {
		d := &ds[i]
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now().UTC()
		}
		// The partial unique index on (identity_hash) WHERE status='open'
		// makes re-runs of an unchanged pair no-ops.
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO discrepancies
			 (id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.IdentityHash, d.CoinID, string(d.Field), d.CurrentValue, d.ExternalValue,
			d.Confidence, d.Source, string(model.DiscrepancyOpen), d.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert discrepancy %s/%s", d.CoinID, d.Field)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert discrepancies")
	}
	return inserted, nil
}

func (s *SQLiteStore) GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at, resolved_at
		 FROM discrepancies WHERE id = ?`,
		id,
	)
	return scanDiscrepancy(row)
}

func (s *SQLiteStore) ListDiscrepancies(ctx context.Context, filter DiscrepancyFilter) ([]model.Discrepancy, error) {
	query := `SELECT id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at, resolved_at
		 FROM discrepancies WHERE 1=1`
	var args []any

	if filter.CoinID != "" {
		query += ` AND coin_id = ?`
		args = append(args, filter.CoinID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.Field != "" {
		query += ` AND field = ?`
		args = append(args, string(filter.Field))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list discrepancies")
	}
	defer rows.Close()

	var ds []model.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		ds = append(ds, *d)
	}
	return ds, eris.Wrap(rows.Err(), "sqlite: list discrepancies iterate")
}

func (s *SQLiteStore) ResolveDiscrepancy(ctx context.Context, id string, status model.DiscrepancyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discrepancies SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), id, string(model.DiscrepancyOpen),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve discrepancy %s", id)
	}
	return checkRowsAffected(res, "open discrepancy", id)
}

func (s *SQLiteStore) CountDiscrepancies(ctx context.Context, status model.DiscrepancyStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM discrepancies WHERE status = ?`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count discrepancies")
}

// Events

func (s *SQLiteStore) AppendEvent(ctx context.Context, e model.DomainEvent) (string, error) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, coin_id, event_type, occurred_at, payload) VALUES (?, ?, ?, ?, ?)`,
		e.EventID, e.CoinID, string(e.EventType), e.OccurredAt, string(e.Payload),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: append event %s", e.EventType)
	}
	return e.EventID, nil
}

func (s *SQLiteStore) ListEventsByRecord(ctx context.Context, coinID string, filter EventFilter) ([]model.DomainEvent, error) {
	query := `SELECT seq, event_id, coin_id, event_type, occurred_at, payload FROM events WHERE coin_id = ?`
	args := []any{coinID}

	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if filter.Since != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += ` AND occurred_at <= ?`
		args = append(args, filter.Until.UTC())
	}
	// Ties on occurred_at break by insertion order; the ordering is stable
	// and never re-sorted after the fact.
	query += ` ORDER BY occurred_at ASC, seq ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.DomainEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count events")
}

func (s *SQLiteStore) AccuracyStats(ctx context.Context, bucketWidth float64) (model.AccuracyStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, payload FROM events WHERE event_type IN (?, ?, ?)`,
		string(model.EventSuggestionAccepted),
		string(model.EventSuggestionAutoApplied),
		string(model.EventSuggestionRejected),
	)
	if err != nil {
		return model.AccuracyStats{}, eris.Wrap(err, "sqlite: accuracy stats query")
	}
	defer rows.Close()

	outcomes, err := scanSuggestionOutcomes(rows)
	if err != nil {
		return model.AccuracyStats{}, err
	}
	return foldAccuracy(bucketWidth, outcomes)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// coinFieldArg converts the string value into the column's storage type.
func coinFieldArg(field model.FieldName, value string) (any, error) {
	switch field {
	case model.FieldYearStart, model.FieldYearEnd:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, eris.Wrapf(err, "parse %s", field)
		}
		return n, nil
	default:
		return value, nil
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCoin(row scannable) (*model.Coin, error) {
	var c model.Coin
	err := row.Scan(&c.ID, &c.Issuer, &c.Mint, &c.YearStart, &c.YearEnd,
		&c.State, &c.Grade, &c.Weight, &c.Diameter, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "coin")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan coin")
	}
	return &c, nil
}

func scanDiscrepancy(row scannable) (*model.Discrepancy, error) {
	var d model.Discrepancy
	var field, status string
	var resolvedAt sql.NullTime
	err := row.Scan(&d.ID, &d.IdentityHash, &d.CoinID, &field, &d.CurrentValue, &d.ExternalValue,
		&d.Confidence, &d.Source, &status, &d.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "discrepancy")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan discrepancy")
	}
	d.Field = model.FieldName(field)
	d.Status = model.DiscrepancyStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		d.ResolvedAt = &t
	}
	return &d, nil
}

func scanEvent(row scannable) (*model.DomainEvent, error) {
	var e model.DomainEvent
	var typ string
	var payload sql.NullString
	err := row.Scan(&e.Seq, &e.EventID, &e.CoinID, &typ, &e.OccurredAt, &payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan event")
	}
	e.EventType = model.EventType(typ)
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	return &e, nil
}

func scanSuggestionOutcomes(rows *sql.Rows) ([]suggestionOutcome, error) {
	var outcomes []suggestionOutcome
	for rows.Next() {
		var typ string
		var payload sql.NullString
		if err := rows.Scan(&typ, &payload); err != nil {
			return nil, eris.Wrap(err, "scan suggestion outcome")
		}
		var p model.SuggestionPayload
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
				return nil, eris.Wrap(err, "unmarshal suggestion payload")
			}
		}
		outcomes = append(outcomes, suggestionOutcome{
			confidence: p.Confidence,
			accepted:   isAcceptedType(model.EventType(typ)),
		})
	}
	return outcomes, eris.Wrap(rows.Err(), "suggestion outcomes iterate")
}
