package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/outbox"
	"github.com/angelmondragon/settlement-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

const (
	defaultStaleAfter = 30 * time.Minute
	unpaidSweepBatch  = 200

	reasonConfirmationTimeout = "confirmation_timeout"
)

// UnpaidOrderJobParams configure the unpaid order sweep.
type UnpaidOrderJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Orders     unpaidOrderReader
	Outbox     outboxOnceEmitter
	StaleAfter time.Duration
}

type unpaidOrderReader interface {
	ListAwaitingReconciliation(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
}

type outboxOnceEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// NewUnpaidOrderJob builds the job that escalates orders whose payment was
// observed by the provider but never confirmed here.
func NewUnpaidOrderJob(params UnpaidOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &unpaidOrderJob{
		logg:       params.Logger,
		db:         params.DB,
		orders:     params.Orders,
		outbox:     params.Outbox,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

type unpaidOrderJob struct {
	logg       *logger.Logger
	db         txRunner
	orders     unpaidOrderReader
	outbox     outboxOnceEmitter
	staleAfter time.Duration
	now        func() time.Time
}

func (j *unpaidOrderJob) Name() string { return "unpaid-order-sweep" }

// Run walks the whole backlog in pages. Escalated orders drop out of the
// query, so a cycle never rereads work a previous cycle finished.
func (j *unpaidOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)

	var (
		errs    []error
		after   *pagination.Cursor
		scanned int
		emitted int
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rows, err := j.orders.ListAwaitingReconciliation(ctx, cutoff, after, unpaidSweepBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("query unpaid orders: %w", err))
			break
		}
		scanned += len(rows)
		for _, order := range rows {
			created, err := j.escalate(ctx, order)
			if err != nil {
				errs = append(errs, fmt.Errorf("order %s: %w", order.ID, err))
				continue
			}
			if created {
				emitted++
			}
		}
		if len(rows) < unpaidSweepBatch {
			break
		}
		last := rows[len(rows)-1]
		after = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": scanned,
		"emitted": emitted,
	})
	j.logg.Info(logCtx, "unpaid order sweep complete")
	return multierr.Combine(errs...)
}

func (j *unpaidOrderJob) escalate(ctx context.Context, order models.Order) (bool, error) {
	if order.ProviderTransactionID == nil || *order.ProviderTransactionID == "" {
		return false, nil
	}
	reason := reasonConfirmationTimeout
	var observed int64
	if order.PaymentResult != nil {
		observed = order.PaymentResult.AmountCents
		if order.PaymentResult.Status == enums.PaymentStatusAmountMismatch {
			reason = string(enums.PaymentStatusAmountMismatch)
		}
	}

	var created bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReconciliationRequired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			OccurredAt:    j.now().UTC(),
			Data: payloads.OrderReconciliationRequiredEvent{
				OrderID:               order.ID,
				BuyerID:               order.BuyerID,
				ProviderTransactionID: *order.ProviderTransactionID,
				Reason:                reason,
				ExpectedCents:         order.TotalPriceCents,
				ObservedCents:         observed,
				Currency:              order.Currency,
			},
		})
		created = ok
		return err
	})
	return created, err
}
