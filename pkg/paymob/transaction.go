package paymob

import "strconv"

// NotificationTypeTransaction is the only notification type that settles orders.
const NotificationTypeTransaction = "TRANSACTION"

// Notification is the server-to-server callback body.
type Notification struct {
	Type string      `json:"type"`
	Obj  Transaction `json:"obj"`
}

// Transaction is the provider's record of one payment attempt.
type Transaction struct {
	ID                   int64      `json:"id"`
	AmountCents          int64      `json:"amount_cents"`
	CreatedAt            string     `json:"created_at"`
	Currency             string     `json:"currency"`
	ErrorOccured         bool       `json:"error_occured"`
	HasParentTransaction bool       `json:"has_parent_transaction"`
	IntegrationID        int64      `json:"integration_id"`
	Is3DSecure           bool       `json:"is_3d_secure"`
	IsAuth               bool       `json:"is_auth"`
	IsCapture            bool       `json:"is_capture"`
	IsRefunded           bool       `json:"is_refunded"`
	IsStandalonePayment  bool       `json:"is_standalone_payment"`
	IsVoided             bool       `json:"is_voided"`
	Order                OrderRef   `json:"order"`
	Owner                int64      `json:"owner"`
	Pending              bool       `json:"pending"`
	SourceData           SourceData `json:"source_data"`
	Success              bool       `json:"success"`
}

// OrderRef points at the registered provider order.
type OrderRef struct {
	ID int64 `json:"id"`
}

// SourceData describes the payment instrument. Pan is masked by the provider.
type SourceData struct {
	Pan     string `json:"pan"`
	SubType string `json:"sub_type"`
	Type    string `json:"type"`
}

// TransactionID returns the id as the string form stored on orders.
func (t Transaction) TransactionID() string {
	return strconv.FormatInt(t.ID, 10)
}

// ProviderOrderID returns the order id as the string form stored on orders.
func (t Transaction) ProviderOrderID() string {
	return strconv.FormatInt(t.Order.ID, 10)
}
