package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/angelmondragon/settlement-backend/pkg/logger"
)

func newBufferLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: zerolog.InfoLevel, Format: logger.FormatJSON, Output: buf})
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not json: %q", line)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(Logging(newBufferLogger(&buf)))
	r.Post("/orders/{orderId}/mark-paid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders/abc/mark-paid", nil))

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one entry, got %d", len(lines))
	}
	entry := lines[0]
	if entry["message"] != "request.complete" || entry["level"] != "info" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["route"] != "/orders/{orderId}/mark-paid" || entry["path"] != "/orders/abc/mark-paid" {
		t.Fatalf("unexpected route fields %v", entry)
	}
	if entry["status"] != float64(http.StatusCreated) || entry["bytes"] != float64(2) {
		t.Fatalf("unexpected status fields %v", entry)
	}
}

func TestLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(newBufferLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("health probe should log below info, got %d entries", len(lines))
	}
	if lines[0]["level"] != "warn" || lines[0]["status"] != float64(http.StatusBadGateway) {
		t.Fatalf("unexpected entry %v", lines[0])
	}
}

func TestRecovererWritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	handler := Recoverer(newBufferLogger(&buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"INTERNAL_ERROR"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "nil map write") {
		t.Fatal("panic value leaked to the client")
	}
	if !strings.Contains(buf.String(), "nil map write") {
		t.Fatalf("panic value missing from logs: %s", buf.String())
	}
}

func TestRecovererRepanicsOnAbort(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("expected panic")
}
