package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDPropagatesOrMints(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	cases := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"caller id", "edge-7f3a", true},
		{"missing", "", false},
		{"control characters", "abc\x1bdef", false},
		{"too long", strings.Repeat("a", maxRequestIDBytes+1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header.Set(requestIDHeader, tc.incoming)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			echoed := resp.Header().Get(requestIDHeader)
			if echoed != seen {
				t.Fatalf("response header %q differs from context %q", echoed, seen)
			}
			if tc.keep {
				if seen != tc.incoming {
					t.Fatalf("expected caller id kept, got %q", seen)
				}
				return
			}
			id, err := uuid.Parse(seen)
			if err != nil || id.Version() != 7 {
				t.Fatalf("expected minted v7 uuid, got %q", seen)
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := WithRole(WithUserID(nil, "6f1c2a7e-3b5d-4c8e-9a0b-1d2e3f4a5b6c"), "buyer")
	if RoleFromContext(ctx) != "buyer" || UserIDFromContext(ctx) == "" {
		t.Fatalf("identity lost: %q %q", UserIDFromContext(ctx), RoleFromContext(ctx))
	}
	if _, ok := BuyerIDFromContext(ctx); !ok {
		t.Fatal("expected buyer id")
	}
	if RoleFromContext(nil) != "" {
		t.Fatal("nil context should carry no role")
	}
}
