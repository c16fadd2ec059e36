package checkout

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
)

// StockValidationInput describes the data required to verify a line against inventory.
type StockValidationInput struct {
	ProductID    uuid.UUID
	ProductName  string
	CountInStock int
	Quantity     int
}

// StockViolationDetail exposes the data returned to callers when a validation fails.
type StockViolationDetail struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Available    int       `json:"available"`
	RequestedQty int       `json:"requested_qty"`
}

// ValidateStock ensures no line requests more units than the catalog has in stock.
func ValidateStock(items []StockValidationInput) error {
	var violations []StockViolationDetail
	for _, item := range items {
		if item.Quantity <= item.CountInStock {
			continue
		}
		violations = append(violations, StockViolationDetail{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			Available:    item.CountInStock,
			RequestedQty: item.Quantity,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeValidation, "insufficient stock for %d item(s)", len(violations)).WithDetails(map[string]any{
		"reason":     "insufficient_stock",
		"violations": violations,
	})
}

// BillingField is one required entry of the gateway billing profile.
type BillingField struct {
	Name  string
	Value string
}

// ValidateBillingProfile fails when any required billing field is blank. The
// gateway rejects incomplete profiles late, so this runs before any network call.
func ValidateBillingProfile(fields []BillingField, extraMissing ...string) error {
	missing := []string{}
	for _, f := range fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	missing = append(missing, extraMissing...)
	if len(missing) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "billing profile incomplete").WithDetails(map[string]any{
		"reason":         "incomplete_billing_profile",
		"missing_fields": missing,
	})
}

// EmptyCartError is returned before any gateway call when there is nothing to pay for.
func EmptyCartError() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty").WithDetails(map[string]any{
		"reason":  "empty_cart",
		"charged": false,
	})
}
