package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/handlers/render"
	"github.com/nkiryanov/affiliate/internal/handlers/userctx"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
)

func handleUserBalance(ledger ledger, l logger.Logger) http.Handler {
	type response struct {
		Available string `json:"available"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		balance, err := ledger.AvailableBalance(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to get balance", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Available: balance.StringFixed(moneyPlaces)})
	})
}

func handleListCommissions(ledger ledger, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		page, err := pageFromQuery(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}
		statuses, err := statusesFromQuery(r, models.IsCommissionStatus)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		commissions, err := ledger.ListCommissions(r.Context(), user.ID, statuses, page)
		if err != nil {
			l.Error("Failed to list commissions", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, toCommissionsResponse(commissions))
	})
}

func handleConfirmCommission(ledger ledger, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		commission, err := ledger.Confirm(r.Context(), id)

		switch {
		case err == nil:
			render.JSON(w, toCommissionResponse(commission))
		case errors.Is(err, apperrors.ErrCommissionNotFound):
			render.ServiceError(w, "Commission not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrInvalidStateTransition):
			render.ServiceError(w, "Commission can't be confirmed", http.StatusConflict)
		default:
			l.Error("Failed to confirm commission", "error", err, "commission_id", id)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
