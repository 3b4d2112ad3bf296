package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
	"github.com/R3E-Network/eventbus/pkg/event"
)

// OpenPostgres opens a pooled Postgres connection and verifies connectivity
// with a bounded ping.
func OpenPostgres(ctx context.Context, dsn string, poolSize int) (*sqlx.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, buserrors.ConfigurationError("storage.dsn", "postgres DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, buserrors.Wrap(buserrors.ErrCodeConfiguration, "open postgres", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, buserrors.Wrap(buserrors.ErrCodeStorage, "ping postgres", err)
	}
	return db, nil
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting storeOne run
// either standalone or inside a batch transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore is the durable, relational Backend implementation.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-connected pool. Call Initialize before
// first use to apply embedded migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Initialize applies the embedded migrations; safe to call repeatedly.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	if err := applyMigrations(s.db.DB); err != nil {
		return err
	}
	return nil
}

// Store persists one envelope, relying on ON CONFLICT (id) DO NOTHING for the
// bundled duplicate-event semantics (silent idempotent no-op).
func (s *PostgresStore) Store(ctx context.Context, e *event.Envelope) error {
	return storeOne(ctx, s.db, e)
}

func storeOne(ctx context.Context, ex execer, e *event.Envelope) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeValidation, "marshal payload", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeValidation, "marshal metadata", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO eventbus_events
			(id, topic, payload, timestamp, metadata, source_trn, target_trn, correlation_id, sequence_number, priority)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, e.EventID, e.Topic, payload, e.Timestamp, metadata,
		nullString(e.SourceTRN), nullString(e.TargetTRN), nullString(e.CorrelationID),
		nullInt64(e.SequenceNumber), e.Priority)
	if err != nil {
		return buserrors.StorageError("store", err)
	}
	return nil
}

// StoreBatch persists every envelope inside one transaction; a mid-batch
// failure rolls back the whole batch.
func (s *PostgresStore) StoreBatch(ctx context.Context, envelopes []*event.Envelope) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return buserrors.StorageError("store_batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range envelopes {
		if err := storeOne(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return buserrors.StorageError("store_batch", err)
	}
	return nil
}

// Query builds a dynamic WHERE clause from the set filters on q and returns
// matches ordered by timestamp descending, id ascending on ties.
func (s *PostgresStore) Query(ctx context.Context, q event.Query) ([]*event.Envelope, error) {
	var clauses []string
	var args []interface{}
	add := func(clauseFmt string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clauseFmt, len(args)))
	}

	if q.TopicPattern != "" && q.TopicPattern != "*" {
		if strings.HasSuffix(q.TopicPattern, "*") {
			add("topic LIKE $%d", strings.TrimSuffix(q.TopicPattern, "*")+"%")
		} else {
			add("topic = $%d", q.TopicPattern)
		}
	}
	if q.Since != 0 {
		add("timestamp >= $%d", q.Since)
	}
	if q.Until != 0 {
		add("timestamp < $%d", q.Until)
	}
	if q.SourceTRN != "" {
		add("source_trn = $%d", q.SourceTRN)
	}
	if q.TargetTRN != "" {
		add("target_trn = $%d", q.TargetTRN)
	}
	if q.CorrelationID != "" {
		add("correlation_id = $%d", q.CorrelationID)
	}

	query := `SELECT id, topic, payload, timestamp, metadata, source_trn, target_trn, correlation_id, sequence_number, priority
		FROM eventbus_events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, buserrors.StorageError("query", err)
	}
	defer rows.Close()

	var out []*event.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, buserrors.StorageError("query", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, buserrors.StorageError("query", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Rows; isolated for sqlmock-driven tests.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*event.Envelope, error) {
	var (
		id, topic                          string
		payloadBytes, metadataBytes        []byte
		timestamp                          int64
		sourceTRN, targetTRN, correlationID sql.NullString
		sequenceNumber                      sql.NullInt64
		priority                            uint32
	)

	if err := row.Scan(&id, &topic, &payloadBytes, &timestamp, &metadataBytes,
		&sourceTRN, &targetTRN, &correlationID, &sequenceNumber, &priority); err != nil {
		return nil, err
	}

	var payload interface{}
	if len(payloadBytes) > 0 {
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			return nil, err
		}
	}
	var metadata map[string]interface{}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
			return nil, err
		}
	}

	e := &event.Envelope{
		EventID:       id,
		Topic:         topic,
		Payload:       payload,
		Timestamp:     timestamp,
		Metadata:      metadata,
		SourceTRN:     sourceTRN.String,
		TargetTRN:     targetTRN.String,
		CorrelationID: correlationID.String,
		Priority:      priority,
	}
	if sequenceNumber.Valid {
		e.SequenceNumber = &sequenceNumber.Int64
	}
	return e, nil
}

// Cleanup removes every envelope with timestamp < beforeTimestamp.
func (s *PostgresStore) Cleanup(ctx context.Context, beforeTimestamp int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM eventbus_events WHERE timestamp < $1`, beforeTimestamp)
	if err != nil {
		return 0, buserrors.StorageError("cleanup", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, buserrors.StorageError("cleanup", err)
	}
	return n, nil
}

// GetStats reports cheap aggregates via a single scan of the events table.
func (s *PostgresStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	var oldest, newest sql.NullInt64

	row := s.db.QueryRowContext(ctx, `
		SELECT count(*), count(DISTINCT topic), min(timestamp), max(timestamp)
		FROM eventbus_events
	`)
	if err := row.Scan(&stats.Count, &stats.TopicCount, &oldest, &newest); err != nil {
		return Stats{}, buserrors.StorageError("get_stats", err)
	}
	stats.OldestTimestamp = oldest.Int64
	stats.NewestTimestamp = newest.Int64
	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
