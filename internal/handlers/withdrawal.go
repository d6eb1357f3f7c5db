package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/handlers/render"
	"github.com/nkiryanov/affiliate/internal/handlers/userctx"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/service/withdrawal"
)

func handleRequestWithdrawal(withdrawals withdrawalService, l logger.Logger) http.Handler {
	type account struct {
		Name     string `json:"name" validate:"required,max=100"`
		Number   string `json:"number" validate:"required,max=64"`
		BankName string `json:"bank_name" validate:"max=100"`
		Notes    string `json:"notes" validate:"max=500"`
	}
	// Amount and method are checked by the service: their errors are 422
	type request struct {
		Amount  decimal.Decimal `json:"amount"`
		Method  string          `json:"method"`
		Account account         `json:"account"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		created, err := withdrawals.Request(r.Context(), withdrawal.RequestParams{
			UserID: user.ID,
			Amount: data.Amount,
			Method: data.Method,
			Account: models.AccountInfo{
				Name:     data.Account.Name,
				Number:   data.Account.Number,
				BankName: data.Account.BankName,
				Notes:    data.Account.Notes,
			},
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, toWithdrawalResponse(created), http.StatusCreated)
		case errors.Is(err, apperrors.ErrBalanceInsufficient):
			render.ServiceError(w, "Insufficient balance", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Invalid amount", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrWithdrawalMethodInvalid):
			render.ServiceError(w, "Invalid withdrawal method", http.StatusUnprocessableEntity)
		default:
			l.Error("Failed to request withdrawal", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListUserWithdrawals(withdrawals withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		listWithdrawals(w, r, withdrawals, &user.ID, l)
	})
}

// Operator view: withdrawals of every user or of one if 'user_id' is set
func handleListAllWithdrawals(withdrawals withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var userID *uuid.UUID
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				render.ServiceError(w, "'user_id' is not valid id", http.StatusBadRequest)
				return
			}
			userID = &id
		}

		listWithdrawals(w, r, withdrawals, userID, l)
	})
}

func listWithdrawals(w http.ResponseWriter, r *http.Request, withdrawals withdrawalService, userID *uuid.UUID, l logger.Logger) {
	page, err := pageFromQuery(r)
	if err != nil {
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
		return
	}
	statuses, err := statusesFromQuery(r, models.IsWithdrawalStatus)
	if err != nil {
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := withdrawals.ListWithdrawals(r.Context(), userID, statuses, page)
	if err != nil {
		l.Error("Failed to list withdrawals", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, toWithdrawalsResponse(list))
}

func handleMarkProcessing(withdrawals withdrawalService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		marked, err := withdrawals.MarkProcessing(r.Context(), id)
		renderTransition(w, marked, err, l)
	})
}

func handleResolveWithdrawal(withdrawals withdrawalService, l logger.Logger) http.Handler {
	type request struct {
		Outcome string `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
		Remark  string `json:"remark" validate:"max=500"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			render.ServiceError(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		resolved, err := withdrawals.Resolve(r.Context(), id, data.Outcome, data.Remark)
		renderTransition(w, resolved, err, l)
	})
}

func renderTransition(w http.ResponseWriter, updated models.Withdrawal, err error, l logger.Logger) {
	switch {
	case err == nil:
		render.JSON(w, toWithdrawalResponse(updated))
	case errors.Is(err, apperrors.ErrWithdrawalNotFound):
		render.ServiceError(w, "Withdrawal not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		render.ServiceError(w, "Withdrawal can't be moved to this state", http.StatusConflict)
	case errors.Is(err, apperrors.ErrWithdrawalOutcome):
		render.ServiceError(w, "Invalid outcome", http.StatusUnprocessableEntity)
	default:
		l.Error("Failed to update withdrawal", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
