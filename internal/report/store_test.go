package report

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strangertalk/relay/internal/moderation"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewStore(db), mock, db
}

const insertQuery = `(?s)^\s*INSERT\s+INTO\s+user_reports\s*\(id,\s*reporter_id,\s*reported_id,\s*session_id,\s*transcript,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*$`

func TestCreate_WithTranscript(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := moderation.Report{
		ID:         "6f1c3c56-3f6b-4c44-9e0b-5b7f8a1b2c3d",
		ReporterID: "alice",
		ReportedID: "bob",
		SessionID:  "sess-1",
		CreatedAt:  at,
		Transcript: []moderation.Line{{From: "reported", Text: "****", Ts: at.Unix()}},
	}

	mock.ExpectExec(insertQuery).
		WithArgs(r.ID, "alice", "bob", "sess-1", []byte(`[{"from":"reported","text":"****","ts":1709287200}]`), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_EmptyTranscriptIsNull(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(insertQuery).
		WithArgs("id-1", "alice", "bob", "sess-1", []byte(nil), at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), moderation.Report{
		ID: "id-1", ReporterID: "alice", ReportedID: "bob", SessionID: "sess-1", CreatedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DBError(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQuery).WillReturnError(errors.New("db down"))

	err := store.Create(context.Background(), moderation.Report{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report: insert: db down")
}

func TestCountSince(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := `(?s)^\s*SELECT\s+COUNT\(\*\)\s+FROM\s+user_reports\s+WHERE\s+reported_id\s*=\s*\$1\s+AND\s+created_at\s*>=\s*\$2\s*$`
	mock.ExpectQuery(q).
		WithArgs("bob", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountSince(context.Background(), "bob", since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	q := `(?s)^\s*SELECT\s+id,\s*reporter_id,\s*reported_id,\s*session_id,\s*transcript,\s*created_at\s+FROM\s+user_reports\s+WHERE\s+reported_id\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$2\s*$`
	rows := sqlmock.NewRows([]string{"id", "reporter_id", "reported_id", "session_id", "transcript", "created_at"}).
		AddRow("r2", "carol", "bob", "s2", nil, at.Add(time.Minute)).
		AddRow("r1", "alice", "bob", "s1", []byte(`[{"from":"reported","text":"hey","ts":1}]`), at)
	mock.ExpectQuery(q).WithArgs("bob", 10).WillReturnRows(rows)

	got, err := store.Recent(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r2", got[0].ID)
	assert.Empty(t, got[0].Transcript)
	assert.Equal(t, []moderation.Line{{From: "reported", Text: "hey", Ts: 1}}, got[1].Transcript)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecent_BadTranscript(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "reporter_id", "reported_id", "session_id", "transcript", "created_at"}).
		AddRow("r1", "alice", "bob", "s1", []byte(`{not json`), time.Now())
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	_, err := store.Recent(context.Background(), "bob", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode transcript r1")
}
