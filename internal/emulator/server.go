package emulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/roach88/spendsync/internal/ir"
	"github.com/roach88/spendsync/internal/store"
)

// Bucket names. Records are keyed by their decimal id.
const (
	bucketPrefix = "emulator."
	bucketSeq    = "emulator.seq"
)

var errNotFound = errors.New("record not found")

// Server is the fake API.
//
// Thread-safety: All methods are safe for concurrent use.
type Server struct {
	kv    store.KV
	token string

	mu       sync.Mutex
	failures []injectedFailure
	requests int
}

type injectedFailure struct {
	status  int
	message string
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on API routes.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// New creates an emulator backed by kv.
func New(kv store.KV, opts ...Option) *Server {
	s := &Server{kv: kv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next n API requests fail with status and message.
func (s *Server) FailNext(n, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, injectedFailure{status: status, message: message})
	}
}

// Requests returns how many API requests reached the emulator, including
// injected failures.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Head("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/main/{kind}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.injectFailures)
		r.Use(kindContext)

		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Get("/{id}", s.get)
		r.Put("/{id}", s.replace)
		r.Patch("/{id}", s.patch)
		r.Delete("/{id}", s.remove)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("emulator listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		slog.Info("emulator shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("emulator shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	kind := kindFrom(r)
	fields, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := normalizeAmount(fields); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_parameter", err.Error())
		return
	}

	var id int64
	err := s.kv.Update(r.Context(), func(tx store.Tx) error {
		var err error
		id, err = nextID(tx, kind)
		if err != nil {
			return err
		}
		fields["id"] = id
		return putRecord(tx, kind, strconv.FormatInt(id, 10), fields)
	})
	if err != nil {
		slog.Error("emulator create failed", "kind", kind, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to create record")
		return
	}

	writeJSON(w, http.StatusCreated, fields)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	kind := kindFrom(r)
	records := []ir.Payload{}
	err := s.kv.View(r.Context(), func(tx store.Tx) error {
		return tx.ForEach(bucketPrefix+string(kind), func(_ string, value []byte) error {
			rec, err := decodeRecord(value)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to list records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{string(kind): records})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	kind, id := kindFrom(r), chi.URLParam(r, "id")
	var rec ir.Payload
	err := s.kv.View(r.Context(), func(tx store.Tx) error {
		var err error
		rec, err = getRecord(tx, kind, id)
		return err
	})
	if s.writeLookupError(w, kind, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) replace(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, false)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	s.update(w, r, true)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, partial bool) {
	kind, id := kindFrom(r), chi.URLParam(r, "id")
	fields, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if err := normalizeAmount(fields); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_parameter", err.Error())
		return
	}

	var out ir.Payload
	err := s.kv.Update(r.Context(), func(tx store.Tx) error {
		cur, err := getRecord(tx, kind, id)
		if err != nil {
			return err
		}
		out = fields
		if partial {
			out = cur.Merge(fields)
		}
		out["id"] = cur["id"]
		return putRecord(tx, kind, id, out)
	})
	if s.writeLookupError(w, kind, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	kind, id := kindFrom(r), chi.URLParam(r, "id")
	err := s.kv.Update(r.Context(), func(tx store.Tx) error {
		return tx.Delete(bucketPrefix+string(kind), id)
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to delete record")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeLookupError writes the response for a failed record lookup and
// reports whether it did.
func (s *Server) writeLookupError(w http.ResponseWriter, kind ir.EntityKind, id string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s not found", kind, id))
	default:
		slog.Error("emulator lookup failed", "kind", kind, "id", id, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to read record")
	}
	return true
}

func nextID(tx store.Tx, kind ir.EntityKind) (int64, error) {
	var last int64
	data, err := tx.Get(bucketSeq, string(kind))
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		last, err = strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence for %s: %w", kind, err)
		}
	}
	next := last + 1
	if err := tx.Put(bucketSeq, string(kind), []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

func getRecord(tx store.Tx, kind ir.EntityKind, id string) (ir.Payload, error) {
	data, err := tx.Get(bucketPrefix+string(kind), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func putRecord(tx store.Tx, kind ir.EntityKind, id string, rec ir.Payload) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Put(bucketPrefix+string(kind), id, data)
}

func decodeRecord(data []byte) (ir.Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec ir.Payload
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// normalizeAmount rewrites "amount" as a two-place decimal string.
func normalizeAmount(fields ir.Payload) error {
	v, ok := fields["amount"]
	if !ok {
		return nil
	}
	amount, err := ir.ParseAmount(v)
	if err != nil {
		return errors.New("amount must be a decimal number")
	}
	fields["amount"] = amount.StringFixed(2)
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request) (ir.Payload, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var fields ir.Payload
	if err := dec.Decode(&fields); err != nil || fields == nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON object")
		return nil, false
	}
	delete(fields, "id")
	return fields, true
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
