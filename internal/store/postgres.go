package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/numisworks/coindex/internal/db"
	"github.com/numisworks/coindex/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()

	appendMu sync.Mutex
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"get_coin":            `SELECT id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at FROM coins WHERE id = $1`,
	"append_event":        `INSERT INTO events (event_id, coin_id, event_type, occurred_at, payload) VALUES ($1, $2, $3, $4, $5)`,
	"get_discrepancy":     `SELECT id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at, resolved_at FROM discrepancies WHERE id = $1`,
	"resolve_discrepancy": `UPDATE discrepancies SET status = $1, resolved_at = $2 WHERE id = $3 AND status = 'open'`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for health checks.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS coins (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issuer     TEXT,
	mint       TEXT,
	year_start INTEGER,
	year_end   INTEGER,
	state      TEXT,
	grade      TEXT,
	weight     TEXT,
	diameter   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS discrepancies (
	id             TEXT PRIMARY KEY,
	identity_hash  TEXT NOT NULL,
	coin_id        TEXT NOT NULL REFERENCES coins(id),
	field          TEXT NOT NULL,
	current_value  TEXT,
	external_value TEXT,
	confidence     DOUBLE PRECISION NOT NULL,
	source         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'open',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS events (
	seq         BIGSERIAL PRIMARY KEY,
	event_id    TEXT NOT NULL UNIQUE,
	coin_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_discrepancies_open_identity
	ON discrepancies(identity_hash) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_discrepancies_coin_status ON discrepancies(coin_id, status);
CREATE INDEX IF NOT EXISTS idx_discrepancies_source ON discrepancies(source);
CREATE INDEX IF NOT EXISTS idx_events_coin_id ON events(coin_id);
CREATE INDEX IF NOT EXISTS idx_events_event_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Coins

func (s *PostgresStore) CreateCoin(ctx context.Context, coin *model.Coin) error {
	if coin.ID == "" {
		coin.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	coin.CreatedAt = now
	coin.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO coins (id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		coin.ID, coin.Issuer, coin.Mint, coin.YearStart, coin.YearEnd,
		coin.State, coin.Grade, coin.Weight, coin.Diameter, now, now,
	)
	return eris.Wrap(err, "postgres: insert coin")
}

func (s *PostgresStore) GetCoin(ctx context.Context, id string) (*model.Coin, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at
		 FROM coins WHERE id = $1`,
		id,
	)
	c, err := scanCoinPgx(row)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) ListCoins(ctx context.Context, limit, offset int) ([]model.Coin, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, issuer, mint, year_start, year_end, state, grade, weight, diameter, created_at, updated_at
		 FROM coins ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list coins")
	}
	defer rows.Close()

	var coins []model.Coin
	for rows.Next() {
		c, err := scanCoinPgx(rows)
		if err != nil {
			return nil, err
		}
		coins = append(coins, *c)
	}
	return coins, eris.Wrap(rows.Err(), "postgres: list coins iterate")
}

func (s *PostgresStore) ListCoinIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM coins ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list coin ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coin id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list coin ids iterate")
}

func (s *PostgresStore) UpdateCoinField(ctx context.Context, id string, field model.FieldName, value string) error {
	col, ok := coinColumn(field)
	if !ok {
		return eris.Errorf("postgres: field %q not updatable", field)
	}

	arg, err := coinFieldArg(field, value)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE coins SET `+pgx.Identifier{col}.Sanitize()+` = $1, updated_at = $2 WHERE id = $3`,
		arg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update coin %s field %s", id, field)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "coin %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteCoin(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coins WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete coin %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "coin %s", id)
	}
	return nil
}

// Discrepancies

func (s *PostgresStore) InsertDiscrepancies(ctx context.Context, ds []model.Discrepancy) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin insert discrepancies")
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for i := range ds {
		d := &ds[i]
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now().UTC()
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO discrepancies
			 (id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (identity_hash) WHERE status = 'open' DO NOTHING`,
			d.ID, d.IdentityHash, d.CoinID, string(d.Field), d.CurrentValue, d.ExternalValue,
			d.Confidence, d.Source, string(model.DiscrepancyOpen), d.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: insert discrepancy %s/%s", d.CoinID, d.Field)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit insert discrepancies")
	}
	return inserted, nil
}

func (s *PostgresStore) GetDiscrepancy(ctx context.Context, id string) (*model.Discrepancy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at, resolved_at
		 FROM discrepancies WHERE id = $1`,
		id,
	)
	return scanDiscrepancyPgx(row)
}

func (s *PostgresStore) ListDiscrepancies(ctx context.Context, filter DiscrepancyFilter) ([]model.Discrepancy, error) {
	query := `SELECT id, identity_hash, coin_id, field, current_value, external_value, confidence, source, status, created_at, resolved_at
		 FROM discrepancies WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if filter.CoinID != "" {
		query += ` AND coin_id = ` + arg(filter.CoinID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ` + arg(filter.Source)
	}
	if filter.Field != "" {
		query += ` AND field = ` + arg(string(filter.Field))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list discrepancies")
	}
	defer rows.Close()

	var ds []model.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancyPgx(rows)
		if err != nil {
			return nil, err
		}
		ds = append(ds, *d)
	}
	return ds, eris.Wrap(rows.Err(), "postgres: list discrepancies iterate")
}

func (s *PostgresStore) ResolveDiscrepancy(ctx context.Context, id string, status model.DiscrepancyStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discrepancies SET status = $1, resolved_at = $2 WHERE id = $3 AND status = 'open'`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve discrepancy %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "open discrepancy %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDiscrepancies(ctx context.Context, status model.DiscrepancyStatus) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM discrepancies WHERE status = $1`, string(status),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count discrepancies")
}

// Events

func (s *PostgresStore) AppendEvent(ctx context.Context, e model.DomainEvent) (string, error) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (event_id, coin_id, event_type, occurred_at, payload) VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, e.CoinID, string(e.EventType), e.OccurredAt, []byte(e.Payload),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: append event %s", e.EventType)
	}
	return e.EventID, nil
}

func (s *PostgresStore) ListEventsByRecord(ctx context.Context, coinID string, filter EventFilter) ([]model.DomainEvent, error) {
	query := `SELECT seq, event_id, coin_id, event_type, occurred_at, payload FROM events WHERE coin_id = $1`
	args := []any{coinID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}

	if filter.EventType != "" {
		query += ` AND event_type = ` + arg(string(filter.EventType))
	}
	if filter.Since != nil {
		query += ` AND occurred_at >= ` + arg(filter.Since.UTC())
	}
	if filter.Until != nil {
		query += ` AND occurred_at <= ` + arg(filter.Until.UTC())
	}
	query += ` ORDER BY occurred_at ASC, seq ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.DomainEvent
	for rows.Next() {
		var e model.DomainEvent
		var typ string
		var payload []byte
		if err := rows.Scan(&e.Seq, &e.EventID, &e.CoinID, &typ, &e.OccurredAt, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		e.EventType = model.EventType(typ)
		e.Payload = json.RawMessage(payload)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count events")
}

func (s *PostgresStore) AccuracyStats(ctx context.Context, bucketWidth float64) (model.AccuracyStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_type, payload FROM events WHERE event_type = ANY($1)`,
		[]string{
			string(model.EventSuggestionAccepted),
			string(model.EventSuggestionAutoApplied),
			string(model.EventSuggestionRejected),
		},
	)
	if err != nil {
		return model.AccuracyStats{}, eris.Wrap(err, "postgres: accuracy stats query")
	}
	defer rows.Close()

	var outcomes []suggestionOutcome
	for rows.Next() {
		var typ string
		var payload []byte
		if err := rows.Scan(&typ, &payload); err != nil {
			return model.AccuracyStats{}, eris.Wrap(err, "postgres: scan suggestion outcome")
		}
		var p model.SuggestionPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return model.AccuracyStats{}, eris.Wrap(err, "postgres: unmarshal suggestion payload")
			}
		}
		outcomes = append(outcomes, suggestionOutcome{
			confidence: p.Confidence,
			accepted:   isAcceptedType(model.EventType(typ)),
		})
	}
	if err := rows.Err(); err != nil {
		return model.AccuracyStats{}, eris.Wrap(err, "postgres: suggestion outcomes iterate")
	}
	return foldAccuracy(bucketWidth, outcomes)
}

// helpers

type pgxScannable interface {
	Scan(dest ...any) error
}

func scanCoinPgx(row pgxScannable) (*model.Coin, error) {
	var c model.Coin
	err := row.Scan(&c.ID, &c.Issuer, &c.Mint, &c.YearStart, &c.YearEnd,
		&c.State, &c.Grade, &c.Weight, &c.Diameter, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "coin")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan coin")
	}
	return &c, nil
}

func scanDiscrepancyPgx(row pgxScannable) (*model.Discrepancy, error) {
	var d model.Discrepancy
	var field, status string
	var resolvedAt *time.Time
	err := row.Scan(&d.ID, &d.IdentityHash, &d.CoinID, &field, &d.CurrentValue, &d.ExternalValue,
		&d.Confidence, &d.Source, &status, &d.CreatedAt, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "discrepancy")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan discrepancy")
	}
	d.Field = model.FieldName(field)
	d.Status = model.DiscrepancyStatus(status)
	d.ResolvedAt = resolvedAt
	return &d, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
