package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/settlement-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"acme", "orders", "projects/acme/topics/orders"},
		{"acme", " projects/other/topics/orders ", "projects/other/topics/orders"},
		{"", "orders", ""},
		{"acme", "  ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, topicResourceName(tc.project, tc.name), "%q/%q", tc.project, tc.name)
	}
}

func TestResourceNamesDedupesAndSkipsBlank(t *testing.T) {
	got := resourceNames("acme", []string{"orders", " ", "projects/acme/topics/orders", "refunds"})
	assert.Equal(t, []string{"projects/acme/topics/orders", "projects/acme/topics/refunds"}, got)
	assert.Empty(t, resourceNames("acme", []string{""}))
}

func TestNewClientValidatesInput(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, []string{"orders"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "acme"}, []string{" "}, nil)
	assert.ErrorIs(t, err, errNoTopics)
}

func TestClientOptions(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{PubSubEmulatorHost: "localhost:8085", CredentialsJSON: "{}"}), 3,
		"the emulator ignores credentials")
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}
