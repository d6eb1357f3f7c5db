package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/handlers/render"
	"github.com/nkiryanov/affiliate/internal/logger"
)

// Order paid webhook. Safe to be delivered many times
func handleOrderPaid(ledger ledger, l logger.Logger) http.Handler {
	type request struct {
		OrderID string          `json:"order_id" validate:"required,max=128"`
		BuyerID uuid.UUID       `json:"buyer_id" validate:"required"`
		Total   decimal.Decimal `json:"total" validate:"gte=0,money"`
	}
	type response struct {
		Created int `json:"created"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		created, err := ledger.OnOrderPaid(r.Context(), data.OrderID, data.BuyerID, data.Total)
		if err != nil {
			l.Error("Failed to accrue commissions", "error", err, "order_id", data.OrderID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Created: len(created)})
	})
}

// Order refunded webhook. Safe to be delivered many times
func handleOrderRefunded(ledger ledger, l logger.Logger) http.Handler {
	type request struct {
		OrderID string `json:"order_id" validate:"required,max=128"`
	}
	type response struct {
		Cancelled           int         `json:"cancelled"`
		OrphanedWithdrawals []uuid.UUID `json:"orphaned_withdrawals"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		result, err := ledger.OnOrderRefunded(r.Context(), data.OrderID)
		if err != nil {
			l.Error("Failed to cancel commissions", "error", err, "order_id", data.OrderID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		orphaned := result.OrphanedWithdrawals
		if orphaned == nil {
			orphaned = []uuid.UUID{}
		}
		render.JSON(w, response{Cancelled: len(result.Cancelled), OrphanedWithdrawals: orphaned})
	})
}
