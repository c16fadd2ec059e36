package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

// Service defines operations that record ledger events.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID               uuid.UUID             `json:"order_id"`
	BuyerID               uuid.UUID             `json:"buyer_id"`
	Type                  enums.LedgerEventType `json:"type"`
	AmountCents           int64                 `json:"amount_cents"`
	Currency              enums.Currency        `json:"currency"`
	ProviderTransactionID string                `json:"provider_transaction_id,omitempty"`
	Metadata              map[string]any        `json:"metadata,omitempty"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// WithTx binds the service to an open transaction.
func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, fmt.Errorf("buyer id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if !input.Currency.IsValid() {
		return nil, fmt.Errorf("invalid currency %q", input.Currency)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}

	event := &models.LedgerEvent{
		ID:          uuid.New(),
		OrderID:     input.OrderID,
		BuyerID:     input.BuyerID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Metadata:    input.Metadata,
	}
	if txnID := strings.TrimSpace(input.ProviderTransactionID); txnID != "" {
		event.ProviderTransactionID = &txnID
	}

	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ListForOrder returns the order's events oldest first.
func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
