package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/handlers/render"
	"github.com/nkiryanov/affiliate/internal/handlers/userctx"
	"github.com/nkiryanov/affiliate/internal/logger"
)

func handleUserMe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, toUserResponse(user))
	})
}

func handleAttachReferrer(userService userService, l logger.Logger) http.Handler {
	type request struct {
		ReferralCode string `json:"referral_code" validate:"required,max=32"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		updated, err := userService.AttachReferrer(r.Context(), user.ID, data.ReferralCode)

		switch {
		case err == nil:
			render.JSON(w, toUserResponse(updated))
		case errors.Is(err, apperrors.ErrReferralCodeInvalid):
			render.ServiceError(w, "Referral code not found", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrReferrerAlreadySet):
			render.ServiceError(w, "Referrer already set", http.StatusConflict)
		case errors.Is(err, apperrors.ErrReferralCycle):
			render.ServiceError(w, "Referrer would create a referral cycle", http.StatusConflict)
		default:
			l.Error("Failed to attach referrer", "error", err, "user_id", user.ID)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
