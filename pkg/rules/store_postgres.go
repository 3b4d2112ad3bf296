package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
)

// PostgresStore is the durable Store implementation. The full Rule is
// round-tripped through the rule_data JSONB column; pattern/priority/enabled/
// schedule are duplicated into their own columns so an operator can filter or
// index on them directly without unpacking JSON, per §6.2's "plus a full
// rule_data structured column for round-tripping unknown action variants".
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an already-connected, already-migrated pool
// (pkg/storage's embedded 0002_rules migration creates eventbus_rules).
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Store(ctx context.Context, rule Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeValidation, "marshal rule", err)
	}

	now := rule.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	updated := rule.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eventbus_rules
			(id, pattern, action_type, priority, enabled, schedule, rule_data, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rule.ID, rule.TopicPattern, string(rule.Action.Type), rule.Priority, rule.Enabled,
		nullableString(rule.Schedule), data, now, updated)
	if err != nil {
		if isUniqueViolation(err) {
			return buserrors.ValidationError("id", "rule already exists")
		}
		return buserrors.StorageError("store", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rule Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeValidation, "marshal rule", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE eventbus_rules
		SET pattern = $2, action_type = $3, priority = $4, enabled = $5, schedule = $6,
		    rule_data = $7, updated_at = $8
		WHERE id = $1
	`, rule.ID, rule.TopicPattern, string(rule.Action.Type), rule.Priority, rule.Enabled,
		nullableString(rule.Schedule), data, time.Now().UTC())
	if err != nil {
		return buserrors.StorageError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return buserrors.StorageError("update", err)
	}
	if n == 0 {
		return buserrors.ValidationError("id", "rule not found")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Rule, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT rule_data FROM eventbus_rules WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, buserrors.ValidationError("id", "rule not found")
	}
	if err != nil {
		return Rule{}, buserrors.StorageError("get", err)
	}
	return unmarshalRule(data)
}

func (s *PostgresStore) List(ctx context.Context, enabledOnly bool) ([]Rule, error) {
	query := `SELECT rule_data FROM eventbus_rules`
	var args []interface{}
	if enabledOnly {
		query += ` WHERE enabled = $1`
		args = append(args, true)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, buserrors.StorageError("list", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, buserrors.StorageError("list", err)
		}
		rule, err := unmarshalRule(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, buserrors.StorageError("list", err)
	}
	return out, nil
}

func (s *PostgresStore) ListByPriority(ctx context.Context, enabledOnly bool) ([]Rule, error) {
	out, err := s.List(ctx, enabledOnly)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM eventbus_rules WHERE id = $1`, id)
	if err != nil {
		return buserrors.StorageError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return buserrors.StorageError("delete", err)
	}
	if n == 0 {
		return buserrors.ValidationError("id", "rule not found")
	}
	return nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	rule.Enabled = enabled
	return s.Update(ctx, rule)
}

func (s *PostgresStore) Count(ctx context.Context, enabledOnly bool) (int, error) {
	query := `SELECT count(*) FROM eventbus_rules`
	var args []interface{}
	if enabledOnly {
		query += ` WHERE enabled = $1`
		args = append(args, true)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, buserrors.StorageError("count", err)
	}
	return n, nil
}

func unmarshalRule(data []byte) (Rule, error) {
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return Rule{}, buserrors.Wrap(buserrors.ErrCodeStorage, "unmarshal rule", err)
	}
	return rule, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
