package settlement

import (
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
)

// Callback is the untrusted browser redirect the provider sends after payment.
type Callback struct {
	Success               bool
	ProviderTransactionID string
	AmountCents           int64
	ProviderOrderID       string
	Signature             string
	// Values holds the signed fields exactly as received.
	Values map[string]string
}

// ParseCallback reads the redirect query string.
func ParseCallback(query url.Values) (Callback, error) {
	cb := Callback{
		ProviderTransactionID: strings.TrimSpace(query.Get("id")),
		ProviderOrderID:       strings.TrimSpace(query.Get("order")),
		Signature:             strings.TrimSpace(query.Get("hmac")),
		Values:                paymob.ValuesFromQuery(query),
	}

	switch strings.ToLower(strings.TrimSpace(query.Get("success"))) {
	case "true":
		cb.Success = true
	case "false":
		cb.Success = false
	default:
		return Callback{}, invalidCallback("success must be true or false", "success")
	}

	if raw := strings.TrimSpace(query.Get("amount_cents")); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || amount < 0 {
			return Callback{}, invalidCallback("amount_cents must be a non-negative integer", "amount_cents")
		}
		cb.AmountCents = amount
	} else if cb.Success {
		return Callback{}, invalidCallback("amount_cents is required", "amount_cents")
	}

	if cb.Success && cb.ProviderTransactionID == "" {
		return Callback{}, invalidCallback("transaction id is required", "id")
	}
	return cb, nil
}

func invalidCallback(msg, field string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{
		"reason": "invalid_callback",
		"field":  field,
	})
}
