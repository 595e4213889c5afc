package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/store"
)

const userID = "9b2f3c52-4f0e-4a5c-9d61-0c1f1e9a7a11"

func newTestBinder(t *testing.T) (*Binder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewBinder(db, "dotproj_user", logrus.NewEntry(logger)), mock
}

func expectBind(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs("app.current_user_id", userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^SET ROLE "dotproj_user"$`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectReset(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`^RESET ROLE$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT set_config\(\$1, '', false\)`).
		WithArgs("app.current_user_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func authedRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID}))
}

func TestMiddlewareBindsAndResets(t *testing.T) {
	binder, mock := newTestBinder(t)
	expectBind(mock)
	expectReset(mock)

	var bound bool
	handler := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, bound = store.ConnFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest())

	if !bound {
		t.Fatal("handler ran without a bound connection")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMiddlewareResetsAfterHandlerError(t *testing.T) {
	binder, mock := newTestBinder(t)
	expectBind(mock)
	expectReset(mock)

	handler := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMiddlewareResetsAfterPanic(t *testing.T) {
	binder, mock := newTestBinder(t)
	expectBind(mock)
	expectReset(mock)

	handler := binder.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic was swallowed")
			}
		}()
		handler.ServeHTTP(httptest.NewRecorder(), authedRequest())
	}()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailedResetDiscardsConnection(t *testing.T) {
	binder, mock := newTestBinder(t)
	expectBind(mock)
	mock.ExpectExec(`^RESET ROLE$`).WillReturnError(errors.New("connection lost"))
	mock.ExpectClose()

	before := testutil.ToFloat64(getMetrics().resetFailures)

	_, release, err := binder.Bind(context.Background(), auth.Identity{UserID: userID})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	release()

	if got := testutil.ToFloat64(getMetrics().resetFailures); got != before+1 {
		t.Fatalf("reset failures = %v, want %v", got, before+1)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetupFailureResetsAndReturnsError(t *testing.T) {
	binder, mock := newTestBinder(t)
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs("app.current_user_id", userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^SET ROLE "dotproj_user"$`).WillReturnError(errors.New("permission denied to set role"))
	expectReset(mock)

	ctx, release, err := binder.Bind(context.Background(), auth.Identity{UserID: userID})
	if err == nil {
		t.Fatal("Bind() error = nil, want set role error")
	}
	release()
	if _, ok := store.ConnFrom(ctx); ok {
		t.Fatal("failed bind returned a bound context")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUnauthenticatedAndStaffSkipBinding(t *testing.T) {
	binder, mock := newTestBinder(t)

	for name, identity := range map[string]auth.Identity{
		"anonymous": {},
		"staff":     {UserID: userID, Staff: true},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, release, err := binder.Bind(context.Background(), identity)
			if err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			release()
			if _, ok := store.ConnFrom(ctx); ok {
				t.Fatal("connection bound for skipped identity")
			}
		})
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
