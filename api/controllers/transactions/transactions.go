package transactions

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/api/middleware"
	"github.com/ranggacaw/treevest-backend/api/responses"
	"github.com/ranggacaw/treevest-backend/api/validators"
	internaltransactions "github.com/ranggacaw/treevest-backend/internal/transactions"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
)

type transactionReader interface {
	GetForUser(ctx context.Context, userID, transactionID uuid.UUID) (*models.Transaction, error)
}

type refundSettler interface {
	SettleRefund(ctx context.Context, input internaltransactions.SettleRefundInput) (*models.Transaction, error)
}

type settleRefundRequest struct {
	ExternalRef string `json:"external_ref" validate:"max=255"`
}

// Get returns one of the caller's transactions. Other users' rows are reported as not found.
func Get(svc transactionReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.GetForUser(r.Context(), userID, transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaltransactions.ToDTO(txn))
	}
}

// SettleRefund records that an admin paid out a pending refund.
func SettleRefund(svc refundSettler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "transaction service unavailable"))
			return
		}
		adminID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactionID, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req settleRefundRequest
		if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		txn, err := svc.SettleRefund(r.Context(), internaltransactions.SettleRefundInput{
			TransactionID: transactionID,
			AdminID:       adminID,
			ExternalRef:   strings.TrimSpace(req.ExternalRef),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internaltransactions.ToDTO(txn))
	}
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return parsed, nil
}
