package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/settlement-backend/api/responses"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
)

const maxNotificationBytes = 1 << 20

type PaymobWebhookService interface {
	HandleNotification(ctx context.Context, n *paymob.Notification) error
}

type PaymobWebhookGuard interface {
	CheckAndMark(ctx context.Context, transactionID string) (bool, error)
	Delete(ctx context.Context, transactionID string) error
}

type PaymobSigner interface {
	HMACSecret() string
}

// PaymobWebhook handles transaction notifications. The signature travels in
// the hmac query parameter and covers the transaction fields of the body.
func PaymobWebhook(svc PaymobWebhookService, client PaymobSigner, guard PaymobWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil || client.HMACSecret() == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "paymob signing secret unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.URL.Query().Get("hmac"))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "paymob signature missing"))
			return
		}

		var notification paymob.Notification
		if err := json.Unmarshal(payload, &notification); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification body"))
			return
		}

		if !paymob.Verify(client.HMACSecret(), notification.Obj.Values(), signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paymob signature"))
			return
		}

		// pending and final notifications share a transaction id
		dedupeKey := fmt.Sprintf("%s:%t:%t", notification.Obj.TransactionID(), notification.Obj.Success, notification.Obj.Pending)
		alreadyProcessed, err := guard.CheckAndMark(ctx, dedupeKey)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, nil)
			return
		}

		if err := svc.HandleNotification(ctx, &notification); err != nil {
			// A stuck key answers the provider's retry as a duplicate.
			if delErr := guard.Delete(ctx, dedupeKey); delErr != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "dedupe_key", dedupeKey), "paymob.webhook.guard_release_failed", delErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}
