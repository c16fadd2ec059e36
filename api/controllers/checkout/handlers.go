package checkout

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/api/middleware"
	"github.com/angelmondragon/settlement-backend/api/responses"
	"github.com/angelmondragon/settlement-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/settlement-backend/internal/checkout"
	"github.com/angelmondragon/settlement-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// Reconciler settles a gateway callback for a buyer.
type Reconciler interface {
	Reconcile(ctx context.Context, buyerID uuid.UUID, cb settlement.Callback) (*settlement.Outcome, error)
}

type shippingAddressPayload struct {
	Street     string `json:"street" validate:"required,notblank,max=200"`
	Building   string `json:"building" validate:"max=50"`
	Floor      string `json:"floor" validate:"max=20"`
	Apartment  string `json:"apartment" validate:"max=20"`
	City       string `json:"city" validate:"required,notblank,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"required,notblank,max=100"`
}

type initiateRequest struct {
	ShippingAddress *shippingAddressPayload `json:"shipping_address,omitempty"`
}

func (r initiateRequest) toInput() checkoutsvc.InitiateInput {
	if r.ShippingAddress == nil {
		return checkoutsvc.InitiateInput{}
	}
	a := r.ShippingAddress
	return checkoutsvc.InitiateInput{ShippingAddress: &types.ShippingAddress{
		Street:     validators.SanitizeString(a.Street, 200),
		Building:   validators.SanitizeString(a.Building, 50),
		Floor:      validators.SanitizeString(a.Floor, 20),
		Apartment:  validators.SanitizeString(a.Apartment, 20),
		City:       validators.SanitizeString(a.City, 100),
		State:      validators.SanitizeString(a.State, 100),
		PostalCode: validators.SanitizeString(a.PostalCode, 20),
		Country:    validators.SanitizeString(a.Country, 100),
	}}
}

// Initiate opens a hosted payment attempt for the buyer's cart. The body is
// optional and only overrides the stored shipping address.
func Initiate(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		buyerID, ok := middleware.BuyerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required"))
			return
		}

		var payload initiateRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Initiate(r.Context(), buyerID, payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Callback settles the payment attempt the gateway redirected back with.
// Every outcome, including declines and replays, is a 200 with a state.
func Callback(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		cb, err := settlement.ParseCallback(r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// an anonymous callback is still reconciled as already processed
		buyerID, _ := middleware.BuyerIDFromContext(r.Context())

		outcome, err := svc.Reconcile(r.Context(), buyerID, cb)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}
