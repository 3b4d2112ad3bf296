package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/eventbus/pkg/event"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresStore_Store(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	e, err := event.New(event.Params{EventID: "e1", Topic: "orders.created", Timestamp: 1000})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO eventbus_events").
		WithArgs(e.EventID, e.Topic, sqlmock.AnyArg(), e.Timestamp, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), e.Priority).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Store(ctx, e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StoreBatch_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	e1, err := event.New(event.Params{EventID: "e1", Topic: "x", Timestamp: 1000})
	require.NoError(t, err)
	e2, err := event.New(event.Params{EventID: "e2", Topic: "x", Timestamp: 2000})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO eventbus_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO eventbus_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.StoreBatch(ctx, []*event.Envelope{e1, e2}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StoreBatch_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	e1, err := event.New(event.Params{EventID: "e1", Topic: "x", Timestamp: 1000})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO eventbus_events").WillReturnError(assertError{"boom"})
	mock.ExpectRollback()

	err = s.StoreBatch(ctx, []*event.Envelope{e1})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]interface{}{"k": "v"})
	metadata, _ := json.Marshal(map[string]interface{}{})

	rows := sqlmock.NewRows([]string{
		"id", "topic", "payload", "timestamp", "metadata",
		"source_trn", "target_trn", "correlation_id", "sequence_number", "priority",
	}).AddRow("e2", "orders.created", payload, int64(2000), metadata, nil, nil, nil, nil, uint32(100)).
		AddRow("e1", "orders.created", payload, int64(1000), metadata, nil, nil, nil, nil, uint32(100))

	mock.ExpectQuery("SELECT (.|\n)*FROM eventbus_events").WillReturnRows(rows)

	got, err := s.Query(ctx, event.Query{TopicPattern: "orders.*"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].EventID)
	assert.Equal(t, "v", got[0].Payload.(map[string]interface{})["k"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Cleanup(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM eventbus_events").
		WithArgs(int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := s.Cleanup(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"count", "topic_count", "min", "max"}).
		AddRow(int64(5), int64(2), int64(1000), int64(9000))
	mock.ExpectQuery("SELECT count").WillReturnRows(rows)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Count)
	assert.Equal(t, int64(2), stats.TopicCount)
	assert.Equal(t, int64(1000), stats.OldestTimestamp)
	assert.Equal(t, int64(9000), stats.NewestTimestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

// assertError is a minimal error type for WillReturnError in tests above.
type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
