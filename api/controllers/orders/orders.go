package orders

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/api/middleware"
	"github.com/angelmondragon/settlement-backend/api/responses"
	"github.com/angelmondragon/settlement-backend/api/validators"
	internalorders "github.com/angelmondragon/settlement-backend/internal/orders"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

type buyerOrderReader interface {
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	GetForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error)
}

type paymentMarker interface {
	MarkPaid(ctx context.Context, orderID uuid.UUID, payment internalorders.Payment) (*models.Order, error)
}

type ledgerReader interface {
	Ledger(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type OutcomeRecorder interface {
	IncOutcome(state, source string)
}

// List returns the buyer's orders, newest first.
func List(store buyerOrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order store unavailable"))
			return
		}
		buyerID, ok := middleware.BuyerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		page, err := store.ListByBuyer(r.Context(), buyerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ListFromPage(page))
	}
}

// Detail returns one of the buyer's orders. Orders owned by others are 404.
func Detail(store buyerOrderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order store unavailable"))
			return
		}
		buyerID, ok := middleware.BuyerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := store.GetForBuyer(r.Context(), buyerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.FromModel(*order))
	}
}

type markPaidRequest struct {
	ProviderTransactionID string `json:"provider_transaction_id" validate:"required,notblank,max=64"`
	AmountCents           int64  `json:"amount_cents" validate:"min=0"`
}

// AdminMarkPaid confirms payment for an order out of band, for example after
// checking the gateway dashboard. Repeating it with the same transaction id
// returns the paid order unchanged.
func AdminMarkPaid(store paymentMarker, metrics OutcomeRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order store unavailable"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
			ctx = logg.WithTransactionID(ctx, strings.TrimSpace(payload.ProviderTransactionID))
		}

		order, err := store.MarkPaid(ctx, orderID, internalorders.Payment{
			ProviderTransactionID: payload.ProviderTransactionID,
			AmountCents:           payload.AmountCents,
			Source:                internalorders.SourceAdmin,
			PaidAt:                time.Now().UTC(),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if metrics != nil {
			state := enums.SettlementSettled
			if order.PaymentResult != nil && order.PaymentResult.Source != internalorders.SourceAdmin {
				state = enums.SettlementAlreadyProcessed
			}
			metrics.IncOutcome(state.String(), internalorders.SourceAdmin)
		}
		if logg != nil {
			logg.Info(ctx, "orders.admin.mark_paid")
		}
		responses.WriteSuccess(w, internalorders.FromModel(*order))
	}
}

// AdminLedger lists the money events recorded for any order.
func AdminLedger(store ledgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order store unavailable"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		events, err := store.Ledger(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"order_id": orderID,
			"entries":  internalorders.LedgerFromModels(events),
		})
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	return validators.ParseUUID(chi.URLParam(r, "orderId"), "order_id")
}
