package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phorest/code-push-server/internal/common"
	"github.com/phorest/code-push-server/internal/storage"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewFromDB(db), mock, db
}

func TestGet_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	q := `(?s)^\s*SELECT\s+revision,\s*data\s+FROM\s+records\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+key\s*=\s*\$2\s*$`

	rows := sqlmock.NewRows([]string{"revision", "data"}).AddRow(int64(3), []byte(`{"id":"a1"}`))
	mock.ExpectQuery(q).WithArgs("accounts", "a1").WillReturnRows(rows)

	rec, err := s.Get(context.Background(), "accounts", "a1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.Revision != 3 || string(rec.Data) != `{"id":"a1"}` {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+revision`).WithArgs("accounts", "missing").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "accounts", "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsert_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+records\s*\(collection,\s*key,\s*revision,\s*data\)\s*VALUES\s*\(\$1,\s*\$2,\s*1,\s*\$3\)\s*$`

	mock.ExpectExec(q).WithArgs("accounts", "a1", []byte(`{"id":"a1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Insert(context.Background(), "accounts", "a1", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
}

func TestInsert_UniqueViolation(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+records`).
		WithArgs("accounts", "a1", []byte(`{"email":"dup@x.com"}`)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.Insert(context.Background(), "accounts", "a1", []byte(`{"email":"dup@x.com"}`))
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCompareAndSwap_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	q := `(?s)UPDATE\s+records\s+SET\s+data\s*=\s*\$3,\s*revision\s*=\s*revision\s*\+\s*1\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+key\s*=\s*\$2\s+AND\s+revision\s*=\s*\$4`

	mock.ExpectExec(q).WithArgs("apps", "app1", []byte(`{}`), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CompareAndSwap(context.Background(), "apps", "app1", []byte(`{}`), 2); err != nil {
		t.Fatalf("CompareAndSwap error: %v", err)
	}
}

func TestCompareAndSwap_Conflict(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+records`).WithArgs("apps", "app1", []byte(`{}`), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// record exists at a newer revision
	rows := sqlmock.NewRows([]string{"revision", "data"}).AddRow(int64(3), []byte(`{}`))
	mock.ExpectQuery(`SELECT\s+revision`).WithArgs("apps", "app1").WillReturnRows(rows)

	err := s.CompareAndSwap(context.Background(), "apps", "app1", []byte(`{}`), 2)
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCompareAndSwap_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+records`).WithArgs("apps", "gone", []byte(`{}`), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT\s+revision`).WithArgs("apps", "gone").WillReturnError(sql.ErrNoRows)

	err := s.CompareAndSwap(context.Background(), "apps", "gone", []byte(`{}`), 2)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE\s+FROM\s+records`).WithArgs("accessKeys", "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "accessKeys", "k1")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueryByIndex(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	q := `(?s)SELECT\s+key,\s*revision,\s*data\s+FROM\s+records\s+WHERE\s+collection\s*=\s*\$1\s+AND\s+data\s*->>\s*\$2\s*=\s*\$3\s+ORDER\s+BY\s+key`

	rows := sqlmock.NewRows([]string{"key", "revision", "data"}).
		AddRow("app1", int64(1), []byte(`{"accountId":"acct-1"}`)).
		AddRow("app2", int64(4), []byte(`{"accountId":"acct-1"}`))
	mock.ExpectQuery(q).WithArgs("apps", "accountId", "acct-1").WillReturnRows(rows)

	recs, err := s.QueryByIndex(context.Background(), storage.CollectionApps, storage.IndexAppAccount, "acct-1")
	if err != nil {
		t.Fatalf("QueryByIndex error: %v", err)
	}
	if len(recs) != 2 || recs[0].Key != "app1" || recs[1].Revision != 4 {
		t.Fatalf("unexpected result: %+v", recs)
	}
}

func TestQueryByIndex_EmptyIsValid(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"key", "revision", "data"})
	mock.ExpectQuery(`SELECT\s+key`).WithArgs("apps", "accountId", "acct-none").WillReturnRows(rows)

	recs, err := s.QueryByIndex(context.Background(), storage.CollectionApps, storage.IndexAppAccount, "acct-none")
	if err != nil {
		t.Fatalf("QueryByIndex error: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty result, got %+v", recs)
	}
}
