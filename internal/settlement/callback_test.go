package settlement

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
)

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback(url.Values{
		"success":      {"true"},
		"id":           {" 192837 "},
		"amount_cents": {"22800"},
		"order":        {"4455"},
		"hmac":         {"abc"},
	})
	require.NoError(t, err)
	assert.True(t, cb.Success)
	assert.Equal(t, "192837", cb.ProviderTransactionID)
	assert.Equal(t, int64(22800), cb.AmountCents)
	assert.Equal(t, "4455", cb.ProviderOrderID)
	assert.Equal(t, "abc", cb.Signature)
	assert.Equal(t, "22800", cb.Values["amount_cents"])

	declined, err := ParseCallback(url.Values{"success": {"FALSE"}})
	require.NoError(t, err)
	assert.False(t, declined.Success)
}

func TestParseCallbackRejects(t *testing.T) {
	cases := map[string]url.Values{
		"missing success": {"id": {"1"}, "amount_cents": {"1"}},
		"garbled success": {"success": {"yes"}, "id": {"1"}, "amount_cents": {"1"}},
		"missing id":      {"success": {"true"}, "amount_cents": {"1"}},
		"missing amount":  {"success": {"true"}, "id": {"1"}},
		"negative amount": {"success": {"true"}, "id": {"1"}, "amount_cents": {"-5"}},
		"decimal amount":  {"success": {"true"}, "id": {"1"}, "amount_cents": {"10.5"}},
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCallback(query)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(enums.SettlementAwaitingCallback, enums.SettlementSucceeded))
	assert.True(t, CanTransition(enums.SettlementAwaitingCallback, enums.SettlementDeclined))
	assert.True(t, CanTransition(enums.SettlementOrderMaterializing, enums.SettlementPendingConfirmation))
	assert.False(t, CanTransition(enums.SettlementAwaitingCallback, enums.SettlementSettled))
	assert.False(t, CanTransition(enums.SettlementDeclined, enums.SettlementSucceeded))
	assert.False(t, CanTransition(enums.SettlementSettled, enums.SettlementAlreadyProcessed))

	for from := range transitions {
		assert.False(t, from.IsTerminal(), "%s has outgoing edges", from)
	}

	a := newAttempt()
	err := a.advance(enums.SettlementSettled)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, enums.SettlementAwaitingCallback, a.state)
}

func TestLatchClaimReleaseAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newLatch(time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.claim("txn"))
	assert.False(t, l.claim("txn"))
	assert.True(t, l.claim("other"))

	l.release("txn")
	assert.True(t, l.claim("txn"))

	now = now.Add(time.Minute)
	assert.True(t, l.claim("other"), "expired claims are forgotten")
	assert.Len(t, l.entries, 1)
}
