// Package paymobwebhook applies signed server-to-server payment notifications.
package paymobwebhook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/internal/orders"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
)

type orderStore interface {
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, payment orders.Payment) (*models.Order, error)
}

type outcomeRecorder interface {
	IncOutcome(state, source string)
}

type ServiceParams struct {
	Orders  orderStore
	Metrics outcomeRecorder
	Logger  *logger.Logger
}

type Service struct {
	orders  orderStore
	metrics outcomeRecorder
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:  params.Orders,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// HandleNotification marks the matching order paid when the provider reports a
// successful, settled transaction. Unknown orders return NOT_FOUND so the
// provider retries after the redirect has created the order.
func (s *Service) HandleNotification(ctx context.Context, n *paymob.Notification) error {
	if n == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification body required")
	}
	if n.Type != paymob.NotificationTypeTransaction {
		s.logg.Info(s.logg.WithField(ctx, "notification_type", n.Type), "paymob.webhook.ignored")
		return nil
	}

	txn := n.Obj
	ctx = s.logg.WithTransactionID(ctx, txn.TransactionID())
	ctx = s.logg.WithField(ctx, "provider_order_id", txn.ProviderOrderID())

	switch {
	case txn.Pending:
		s.logg.Info(ctx, "paymob.webhook.pending")
		return nil
	case !txn.Success || txn.IsVoided || txn.IsRefunded:
		s.logg.Info(ctx, "paymob.webhook.declined")
		s.record(enums.SettlementDeclined)
		return nil
	}

	order, err := s.orders.FindByProviderOrderID(ctx, txn.ProviderOrderID())
	if err != nil {
		return err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if !strings.EqualFold(order.Currency.String(), txn.Currency) {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification currency does not match order").
			WithDetails(map[string]any{"order_currency": order.Currency, "notification_currency": txn.Currency})
	}

	paid, err := s.orders.MarkPaid(ctx, order.ID, orders.Payment{
		ProviderTransactionID: txn.TransactionID(),
		AmountCents:           txn.AmountCents,
		Source:                orders.SourceWebhook,
		PaidAt:                s.now(),
	})
	if err != nil {
		s.logg.Error(ctx, "paymob.webhook.mark_paid_failed", err)
		return err
	}
	if paid.PaymentResult != nil && paid.PaymentResult.Source != orders.SourceWebhook {
		s.logg.Info(ctx, "paymob.webhook.already_settled")
		s.record(enums.SettlementAlreadyProcessed)
		return nil
	}
	s.logg.Info(ctx, "paymob.webhook.order_paid")
	s.record(enums.SettlementSettled)
	return nil
}

func (s *Service) record(state enums.SettlementState) {
	if s.metrics != nil {
		s.metrics.IncOutcome(state.String(), orders.SourceWebhook)
	}
}
