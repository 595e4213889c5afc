package cache

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"dotproj/api/internal/auth"
)

const DefaultHeader = "ETag"

type TimestampStore interface {
	Current(ctx context.Context, key string) (int64, error)
	Bump(ctx context.Context, key string) (int64, error)
	RecordReader(ctx context.Context, key, userID string) error
}

type Middleware struct {
	resolver *Resolver
	store    TimestampStore
	header   string
	log      *logrus.Entry
}

func NewMiddleware(resolver *Resolver, store TimestampStore, header string, log *logrus.Entry) *Middleware {
	if header == "" {
		header = DefaultHeader
	}
	return &Middleware{resolver: resolver, store: store, header: header, log: log}
}

// Handler answers conditional reads from the store without running next and
// bumps every resolved key after a successful write. Anonymous requests and
// paths no template matches pass straight through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFrom(r.Context())
		if !ok {
			getMetrics().requests.WithLabelValues("bypass").Inc()
			next.ServeHTTP(w, r)
			return
		}
		keys := m.resolver.Resolve(r.URL.Path)
		if len(keys) == 0 {
			getMetrics().requests.WithLabelValues("bypass").Inc()
			next.ServeHTTP(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead:
			m.serveRead(w, r, next, keys[0], identity.UserID)
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			m.serveWrite(w, r, next, keys)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (m *Middleware) serveRead(w http.ResponseWriter, r *http.Request, next http.Handler, key, userID string) {
	ts, err := m.store.Current(r.Context(), key)
	if err != nil {
		getMetrics().storeErrors.WithLabelValues("current").Inc()
		m.log.WithError(err).WithField("key", key).Warn("cache store unavailable, serving uncached")
		next.ServeHTTP(w, r)
		return
	}

	validator := Validator(ts)
	if matchesValidator(r.Header.Get("If-None-Match"), validator) {
		getMetrics().requests.WithLabelValues("not_modified").Inc()
		w.Header().Set(m.header, validator)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rw := &validatorWriter{ResponseWriter: w, header: m.header, validator: validator}
	next.ServeHTTP(rw, r)
	getMetrics().requests.WithLabelValues("read").Inc()

	if rw.Status() < http.StatusMultipleChoices {
		if err := m.store.RecordReader(r.Context(), key, userID); err != nil {
			getMetrics().storeErrors.WithLabelValues("record_reader").Inc()
			m.log.WithError(err).WithField("key", key).Warn("record cache reader")
		}
	}
}

func (m *Middleware) serveWrite(w http.ResponseWriter, r *http.Request, next http.Handler, keys []string) {
	buf := newBufferedWriter()
	next.ServeHTTP(buf, r)
	getMetrics().requests.WithLabelValues("write").Inc()

	if buf.status < http.StatusBadRequest {
		for i, key := range keys {
			ts, err := m.store.Bump(r.Context(), key)
			if err != nil {
				getMetrics().storeErrors.WithLabelValues("bump").Inc()
				m.log.WithError(err).WithField("key", key).Warn("bump cache key")
				continue
			}
			if i == 0 {
				buf.header.Set(m.header, Validator(ts))
			}
		}
	}
	buf.flush(w)
}

// matchesValidator uses weak comparison over a comma separated list.
func matchesValidator(header, validator string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(validator, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

type validatorWriter struct {
	http.ResponseWriter
	header    string
	validator string
	status    int
}

func (w *validatorWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		w.ResponseWriter.Header().Set(w.header, w.validator)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *validatorWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *validatorWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *validatorWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// bufferedWriter holds a write response until its validator is known.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: http.Header{}}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) flush(dst http.ResponseWriter) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	for key, values := range w.header {
		dst.Header()[key] = values
	}
	dst.WriteHeader(w.status)
	_, _ = dst.Write(w.body.Bytes())
}
