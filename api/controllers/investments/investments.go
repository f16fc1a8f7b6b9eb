package investments

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/api/middleware"
	"github.com/ranggacaw/treevest-backend/api/responses"
	"github.com/ranggacaw/treevest-backend/api/validators"
	internalinvestments "github.com/ranggacaw/treevest-backend/internal/investments"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
	"github.com/ranggacaw/treevest-backend/pkg/logger"
	"github.com/ranggacaw/treevest-backend/pkg/pagination"
)

const idempotencyHeader = "Idempotency-Key"

type createRequest struct {
	TreeID           string `json:"tree_id" validate:"required,uuid"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	PaymentMethodID  string `json:"payment_method_id" validate:"omitempty,uuid"`
}

type topUpRequest struct {
	AmountMinorUnits int64  `json:"amount_minor_units"`
	PaymentMethodID  string `json:"payment_method_id" validate:"omitempty,uuid"`
}

type retryRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,uuid"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type listResponse struct {
	Items      []internalinvestments.InvestmentDTO `json:"items"`
	NextCursor string                              `json:"next_cursor,omitempty"`
}

// Create starts a purchase and returns the client secret the frontend confirms.
func Create(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		treeID, err := uuid.Parse(req.TreeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tree id"))
			return
		}
		methodID, err := validators.ParseOptionalUUID(req.PaymentMethodID, "payment_method_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), internalinvestments.InitiateInput{
			UserID:          userID,
			TreeID:          treeID,
			AmountCents:     req.AmountMinorUnits,
			PaymentMethodID: methodID,
			IdempotencyKey:  key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result.DTO())
	}
}

// List returns the caller's investments, newest first.
func List(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.List(r.Context(), internalinvestments.ListInput{
			UserID: userID,
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := listResponse{
			Items:      make([]internalinvestments.InvestmentDTO, 0, len(page.Items)),
			NextCursor: page.NextCursor,
		}
		for i := range page.Items {
			out.Items = append(out.Items, internalinvestments.ToDTO(&page.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func Detail(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), userID, investmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail.DTO())
	}
}

func Cancel(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if hasBody(r) {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		inv, err := svc.Cancel(r.Context(), internalinvestments.CancelInput{
			UserID:       userID,
			InvestmentID: investmentID,
			Reason:       strings.TrimSpace(req.Reason),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalinvestments.ToDTO(inv))
	}
}

func TopUp(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req topUpRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		methodID, err := validators.ParseOptionalUUID(req.PaymentMethodID, "payment_method_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.TopUp(r.Context(), internalinvestments.TopUpInput{
			UserID:          userID,
			InvestmentID:    investmentID,
			ExtraCents:      req.AmountMinorUnits,
			PaymentMethodID: methodID,
			IdempotencyKey:  key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result.DTO())
	}
}

// RetryPayment opens a new payment for a pending investment whose last attempt failed.
func RetryPayment(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req retryRequest
		if hasBody(r) {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		methodID, err := validators.ParseOptionalUUID(req.PaymentMethodID, "payment_method_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RetryPayment(r.Context(), internalinvestments.RetryInput{
			UserID:          userID,
			InvestmentID:    investmentID,
			PaymentMethodID: methodID,
			IdempotencyKey:  key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result.DTO())
	}
}

func Delete(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Delete(r.Context(), userID, investmentID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Mature is the admin transition from active to matured.
func Mature(svc internalinvestments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "investment service unavailable"))
			return
		}
		adminID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		investmentID, err := validators.ParseUUIDParam(r, "investmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inv, err := svc.Mature(r.Context(), internalinvestments.MatureInput{
			AdminID:      adminID,
			InvestmentID: investmentID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalinvestments.ToDTO(inv))
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

func idempotencyKey(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	return key, nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
