package instance

import (
	"strings"
	"testing"
)

func TestIDPrefersExplicitEnv(t *testing.T) {
	t.Setenv("SETTLEMENT_INSTANCE_ID", "api-7")
	t.Setenv("DYNO", "web.1")
	if got := ID("api"); got != "api-7" {
		t.Fatalf("expected api-7 got %q", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("SETTLEMENT_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.2")
	if got := ID("cron-worker"); got != "worker.2" {
		t.Fatalf("expected worker.2 got %q", got)
	}
}

func TestIDUsesHostname(t *testing.T) {
	t.Setenv("SETTLEMENT_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	if got := ID("api"); !strings.HasPrefix(got, "api@") {
		t.Fatalf("expected kind prefix got %q", got)
	}
}
