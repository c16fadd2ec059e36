package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
)

const testSecret = "whsec"

type stubWebhookService struct {
	calls int
	last  *paymob.Notification
	err   error
}

func (s *stubWebhookService) HandleNotification(ctx context.Context, n *paymob.Notification) error {
	s.calls++
	s.last = n
	return s.err
}

type stubSigner string

func (s stubSigner) HMACSecret() string { return string(s) }

type memoryGuard struct {
	seen      map[string]bool
	deleted   []string
	err       error
	deleteErr error
}

func newMemoryGuard() *memoryGuard { return &memoryGuard{seen: map[string]bool{}} }

func (g *memoryGuard) CheckAndMark(ctx context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[id] {
		return true, nil
	}
	g.seen[id] = true
	return false, nil
}

func (g *memoryGuard) Delete(ctx context.Context, id string) error {
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.seen, id)
	g.deleted = append(g.deleted, id)
	return nil
}

func signedRequest(t *testing.T, n paymob.Notification, secret string) *http.Request {
	t.Helper()
	body, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	sig := paymob.Sign(secret, n.Obj.Values())
	return httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob?hmac="+sig, strings.NewReader(string(body)))
}

func sampleNotification() paymob.Notification {
	return paymob.Notification{
		Type: paymob.NotificationTypeTransaction,
		Obj: paymob.Transaction{
			ID:          192837,
			AmountCents: 22800,
			Currency:    "EGP",
			Order:       paymob.OrderRef{ID: 4455},
			Success:     true,
		},
	}
}

func TestPaymobWebhookProcessesOnce(t *testing.T) {
	svc := &stubWebhookService{}
	guard := newMemoryGuard()
	handler := PaymobWebhook(svc, stubSigner(testSecret), guard, nil)

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d: %s", i, resp.Code, resp.Body.String())
		}
	}
	if svc.calls != 1 {
		t.Fatalf("expected one delivery to reach the service, got %d", svc.calls)
	}
	if svc.last.Obj.TransactionID() != "192837" {
		t.Fatalf("unexpected notification %+v", svc.last)
	}
}

func TestPaymobWebhookPendingThenFinal(t *testing.T) {
	svc := &stubWebhookService{}
	handler := PaymobWebhook(svc, stubSigner(testSecret), newMemoryGuard(), nil)

	pending := sampleNotification()
	pending.Obj.Pending = true
	handler.ServeHTTP(httptest.NewRecorder(), signedRequest(t, pending, testSecret))
	handler.ServeHTTP(httptest.NewRecorder(), signedRequest(t, sampleNotification(), testSecret))

	if svc.calls != 2 {
		t.Fatalf("expected pending and final notifications to both run, got %d", svc.calls)
	}
}

func TestPaymobWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubWebhookService{}
	handler := PaymobWebhook(svc, stubSigner(testSecret), newMemoryGuard(), nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, sampleNotification(), "wrong-secret"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}

	tampered := signedRequest(t, sampleNotification(), testSecret)
	body := strings.Replace(mustJSON(t, sampleNotification()), "22800", "100", 1)
	tampered = httptest.NewRequest(http.MethodPost, tampered.URL.String(), strings.NewReader(body))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, tampered)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered amount got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/paymob", strings.NewReader(mustJSON(t, sampleNotification()))))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without hmac got %d", resp.Code)
	}
	if svc.calls != 0 {
		t.Fatal("unsigned notifications must not reach the service")
	}
}

func TestPaymobWebhookReleasesGuardOnFailure(t *testing.T) {
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	guard := newMemoryGuard()
	handler := PaymobWebhook(svc, stubSigner(testSecret), guard, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	if len(guard.deleted) != 1 || len(guard.seen) != 0 {
		t.Fatalf("expected guard release, deleted=%v seen=%v", guard.deleted, guard.seen)
	}

	svc.err = nil
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
	if resp.Code != http.StatusOK || svc.calls != 2 {
		t.Fatalf("expected retry to be processed, code=%d calls=%d", resp.Code, svc.calls)
	}
}

func TestPaymobWebhookLogsFailedGuardRelease(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "webhook-test", Output: &buf})
	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	guard := newMemoryGuard()
	guard.deleteErr = errors.New("redis down")

	resp := httptest.NewRecorder()
	PaymobWebhook(svc, stubSigner(testSecret), guard, logg).ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected the service error, got %d", resp.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "paymob.webhook.guard_release_failed") || !strings.Contains(out, "192837:true:false") {
		t.Fatalf("expected guard release failure to be logged, got %s", out)
	}
}

func TestPaymobWebhookGuardFailure(t *testing.T) {
	guard := newMemoryGuard()
	guard.err = errors.New("redis down")
	resp := httptest.NewRecorder()
	PaymobWebhook(&stubWebhookService{}, stubSigner(testSecret), guard, nil).ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestPaymobWebhookMisconfigured(t *testing.T) {
	resp := httptest.NewRecorder()
	PaymobWebhook(&stubWebhookService{}, stubSigner(""), newMemoryGuard(), nil).ServeHTTP(resp, signedRequest(t, sampleNotification(), testSecret))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(body)
}
