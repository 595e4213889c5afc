// Package session binds each authenticated request to a dedicated database
// connection running as the restricted role with the acting user id set, so
// row security policies decide what the request can see and change.
package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"dotproj/api/internal/auth"
	"dotproj/api/internal/policy"
	"dotproj/api/internal/store"
)

var ErrConnectionPoisoned = errors.New("session: connection reset failed")

const resetTimeout = 5 * time.Second

type Binder struct {
	db   *sql.DB
	role string
	log  *logrus.Entry
}

func NewBinder(db *sql.DB, restrictedRole string, log *logrus.Entry) *Binder {
	return &Binder{db: db, role: restrictedRole, log: log}
}

// Bind prepares the connection for identity and returns a context carrying
// it. release must be called exactly once, on every exit path. Unauthenticated
// and staff callers keep the pool and get a no-op release.
func (b *Binder) Bind(ctx context.Context, identity auth.Identity) (context.Context, func(), error) {
	if !identity.Authenticated() || identity.Staff {
		getMetrics().bindTotal.WithLabelValues("skipped").Inc()
		return ctx, func() {}, nil
	}

	conn, err := b.db.Conn(ctx)
	if err != nil {
		getMetrics().bindTotal.WithLabelValues("error").Inc()
		return ctx, func() {}, fmt.Errorf("acquire connection: %w", err)
	}

	release := func() { b.release(conn) }

	if _, err := conn.ExecContext(ctx, `SELECT set_config($1, $2, false)`, policy.SessionUserSetting, identity.UserID); err != nil {
		release()
		getMetrics().bindTotal.WithLabelValues("error").Inc()
		return ctx, func() {}, fmt.Errorf("set acting user: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET ROLE "+pgx.Identifier{b.role}.Sanitize()); err != nil {
		release()
		getMetrics().bindTotal.WithLabelValues("error").Inc()
		return ctx, func() {}, fmt.Errorf("set role: %w", err)
	}

	getMetrics().bindTotal.WithLabelValues("bound").Inc()
	return store.WithConn(ctx, conn), release, nil
}

// release restores the owning role and clears the acting user. A connection
// whose reset fails is marked bad so the pool closes it instead of reusing it.
func (b *Binder) release(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	err := b.reset(ctx, conn)
	if err != nil {
		getMetrics().resetFailures.Inc()
		b.log.WithError(err).Error("discarding connection after failed session reset")
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = conn.Close()
}

func (b *Binder) reset(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, `RESET ROLE`); err != nil {
		return fmt.Errorf("%w: reset role: %v", ErrConnectionPoisoned, err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT set_config($1, '', false)`, policy.SessionUserSetting); err != nil {
		return fmt.Errorf("%w: clear acting user: %v", ErrConnectionPoisoned, err)
	}
	return nil
}

// Middleware binds the request's identity for the duration of the handler.
// It must run after authentication.
func (b *Binder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFrom(r.Context())
		ctx, release, err := b.Bind(r.Context(), identity)
		if err != nil {
			b.log.WithError(err).Error("bind session")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"SERVICE_UNAVAILABLE","error":"database unavailable"}`))
			return
		}
		defer release()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
