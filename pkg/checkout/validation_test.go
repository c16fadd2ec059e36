package checkout

import (
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
)

func TestValidateStock_NoViolations(t *testing.T) {
	items := []StockValidationInput{
		{ProductID: uuid.New(), ProductName: "Exact", CountInStock: 2, Quantity: 2},
		{ProductID: uuid.New(), ProductName: "Plenty", CountInStock: 10, Quantity: 1},
	}
	if err := ValidateStock(items); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStock_Violations(t *testing.T) {
	shortID := uuid.New()
	err := ValidateStock([]StockValidationInput{
		{ProductID: shortID, ProductName: "Short", CountInStock: 1, Quantity: 3},
		{ProductID: uuid.New(), ProductName: "Fine", CountInStock: 5, Quantity: 5},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected map details, got %T", typed.Details())
	}
	violations, ok := details["violations"].([]StockViolationDetail)
	if !ok || len(violations) != 1 {
		t.Fatalf("expected one violation, got %v", details["violations"])
	}
	if violations[0].ProductID != shortID || violations[0].Available != 1 || violations[0].RequestedQty != 3 {
		t.Fatalf("unexpected violation %+v", violations[0])
	}
}

func TestValidateBillingProfileListsMissingFields(t *testing.T) {
	err := ValidateBillingProfile([]BillingField{
		{Name: "first_name", Value: "Mona"},
		{Name: "phone_number", Value: "  "},
	}, "address.city")
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details := typed.Details().(map[string]any)
	missing := details["missing_fields"].([]string)
	if len(missing) != 2 || missing[0] != "phone_number" || missing[1] != "address.city" {
		t.Fatalf("unexpected missing fields %v", missing)
	}

	if err := ValidateBillingProfile([]BillingField{{Name: "email", Value: "a@b.c"}}); err != nil {
		t.Fatalf("complete profile should pass: %v", err)
	}
}

func TestEmptyCartErrorIsFreshEachCall(t *testing.T) {
	a := pkgerrors.As(EmptyCartError())
	b := pkgerrors.As(EmptyCartError())
	if a == b {
		t.Fatal("expected distinct error instances")
	}
	if a.Details().(map[string]any)["reason"] != "empty_cart" {
		t.Fatalf("unexpected details %v", a.Details())
	}
}
