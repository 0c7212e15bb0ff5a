package campaign

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLRepo_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, user_id, name").
		WithArgs("c1", "u1").
		WillReturnError(sql.ErrNoRows)

	repo := NewSQLRepo(db)
	_, err = repo.Get(context.Background(), "u1", "c1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLRepo_Update_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()

	// Version check fails: zero rows updated, but the row exists.
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, name").
		WithArgs("c1", "u1").
		WillReturnRows(campaignRows(now))

	repo := NewSQLRepo(db)
	_, err = repo.Update(context.Background(), Campaign{
		ID: "c1", UserID: "u1", Name: "outreach", Status: StatusActive,
		ConcurrentCalls: 2, MaxRetryDays: 7, Version: 3,
		CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLRepo_Update_BumpsVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSQLRepo(db)
	got, err := repo.Update(context.Background(), Campaign{
		ID: "c1", UserID: "u1", Name: "outreach", Status: StatusActive,
		ConcurrentCalls: 2, MaxRetryDays: 7, Version: 3,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Version != 4 {
		t.Fatalf("expected version 4, got %d", got.Version)
	}
}

func campaignRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "name", "agent_id", "contact_group_id", "contact_count",
		"status", "paused_reason", "concurrent_calls", "calling_window", "max_retry_days",
		"version", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow("c1", "u1", "outreach", nil, nil, 0,
		"active", nil, 2, []byte(`{}`), 7,
		int64(4), nil, nil, now, now)
}
