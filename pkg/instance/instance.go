package instance

import (
	"os"

	"github.com/angelmondragon/settlement-backend/pkg/env"
)

// ID identifies this process in logs and lock values. SETTLEMENT_INSTANCE_ID
// wins, then the platform dyno name, then the hostname.
func ID(kind string) string {
	if id, ok := env.First("SETTLEMENT_INSTANCE_ID", "DYNO"); ok {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	if kind == "" {
		return host
	}
	return kind + "@" + host
}
