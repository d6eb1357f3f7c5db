package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/handlers/middleware"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/service/commission"
	"github.com/nkiryanov/affiliate/internal/service/withdrawal"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	userService userService,
	ledger ledger,
	withdrawals withdrawalService,
	gatewayToken string,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.AuthMiddleware(authService)
	operatorMiddleware := middleware.OperatorMiddleware()

	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}
	withOperator := func(h http.Handler) http.Handler {
		return chain(h, authMiddleware, operatorMiddleware)
	}

	apiuser := http.NewServeMux()

	apiuser.Handle("POST /login", handleLogin(authService, logger))
	apiuser.Handle("POST /register", handleRegister(authService, logger))
	apiuser.Handle("POST /refresh", handleTokenRefresh(authService, logger))

	apiuser.Handle("GET /me", withAuth(handleUserMe()))
	apiuser.Handle("POST /referrer", withAuth(handleAttachReferrer(userService, logger)))
	apiuser.Handle("GET /balance", withAuth(handleUserBalance(ledger, logger)))
	apiuser.Handle("GET /commissions", withAuth(handleListCommissions(ledger, logger)))
	apiuser.Handle("POST /withdrawals", withAuth(handleRequestWithdrawal(withdrawals, logger)))
	apiuser.Handle("GET /withdrawals", withAuth(handleListUserWithdrawals(withdrawals, logger)))

	apioperator := http.NewServeMux()

	apioperator.Handle("GET /withdrawals", handleListAllWithdrawals(withdrawals, logger))
	apioperator.Handle("POST /withdrawals/{id}/processing", handleMarkProcessing(withdrawals, logger))
	apioperator.Handle("POST /withdrawals/{id}/resolve", handleResolveWithdrawal(withdrawals, logger))
	apioperator.Handle("POST /commissions/{id}/confirm", handleConfirmCommission(ledger, logger))

	apigateway := http.NewServeMux()

	apigateway.Handle("POST /orders/paid", handleOrderPaid(ledger, logger))
	apigateway.Handle("POST /orders/refunded", handleOrderRefunded(ledger, logger))

	root := http.NewServeMux()
	root.Handle("/api/user/", http.StripPrefix("/api/user", apiuser))
	root.Handle("/api/operator/", http.StripPrefix("/api/operator", withOperator(apioperator)))
	root.Handle("/api/gateway/", http.StripPrefix("/api/gateway", middleware.GatewayMiddleware(gatewayToken)(apigateway)))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username and password. Referral code is optional
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	// Has to return apperrors.ErrReferralCodeInvalid if code is set but unknown
	Register(ctx context.Context, username string, password string, referralCode string) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound if user not found
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Refresh tokens using refresh token
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

type userService interface {
	AttachReferrer(ctx context.Context, userID uuid.UUID, referralCode string) (models.User, error)
}

type ledger interface {
	OnOrderPaid(ctx context.Context, orderID string, buyerID uuid.UUID, total decimal.Decimal) ([]models.Commission, error)
	OnOrderRefunded(ctx context.Context, orderID string) (commission.RefundResult, error)
	Confirm(ctx context.Context, commissionID uuid.UUID) (models.Commission, error)
	AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListCommissions(ctx context.Context, userID uuid.UUID, statuses []string, page models.Page) ([]models.Commission, error)
}

type withdrawalService interface {
	Request(ctx context.Context, p withdrawal.RequestParams) (models.Withdrawal, error)
	Resolve(ctx context.Context, withdrawalID uuid.UUID, outcome string, remark string) (models.Withdrawal, error)
	MarkProcessing(ctx context.Context, withdrawalID uuid.UUID) (models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID *uuid.UUID, statuses []string, page models.Page) ([]models.Withdrawal, error)
}
