package paymob

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// transactionHMACFields is the order in which Paymob concatenates transaction
// values before signing them.
var transactionHMACFields = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

// Sign computes the hex HMAC-SHA512 over values in the provider's field order.
// Missing fields contribute an empty string.
func Sign(secret string, values map[string]string) string {
	var b strings.Builder
	for _, field := range transactionHMACFields {
		b.WriteString(values[field])
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches values. An empty secret or
// signature never verifies.
func Verify(secret string, values map[string]string, signature string) bool {
	if secret == "" || strings.TrimSpace(signature) == "" {
		return false
	}
	expected, err := hex.DecodeString(Sign(secret, values))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// ValuesFromQuery extracts the signed fields from a browser redirect.
func ValuesFromQuery(query url.Values) map[string]string {
	out := make(map[string]string, len(transactionHMACFields))
	for _, field := range transactionHMACFields {
		out[field] = query.Get(field)
	}
	return out
}

// Values extracts the signed fields from a notification transaction.
func (t Transaction) Values() map[string]string {
	return map[string]string{
		"amount_cents":           strconv.FormatInt(t.AmountCents, 10),
		"created_at":             t.CreatedAt,
		"currency":               t.Currency,
		"error_occured":          strconv.FormatBool(t.ErrorOccured),
		"has_parent_transaction": strconv.FormatBool(t.HasParentTransaction),
		"id":                     strconv.FormatInt(t.ID, 10),
		"integration_id":         strconv.FormatInt(t.IntegrationID, 10),
		"is_3d_secure":           strconv.FormatBool(t.Is3DSecure),
		"is_auth":                strconv.FormatBool(t.IsAuth),
		"is_capture":             strconv.FormatBool(t.IsCapture),
		"is_refunded":            strconv.FormatBool(t.IsRefunded),
		"is_standalone_payment":  strconv.FormatBool(t.IsStandalonePayment),
		"is_voided":              strconv.FormatBool(t.IsVoided),
		"order":                  strconv.FormatInt(t.Order.ID, 10),
		"owner":                  strconv.FormatInt(t.Owner, 10),
		"pending":                strconv.FormatBool(t.Pending),
		"source_data.pan":        t.SourceData.Pan,
		"source_data.sub_type":   t.SourceData.SubType,
		"source_data.type":       t.SourceData.Type,
		"success":                strconv.FormatBool(t.Success),
	}
}
