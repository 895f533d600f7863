package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/eaglebank/transaction-service/internal/command"
	"github.com/eaglebank/transaction-service/internal/ledger"
	"github.com/eaglebank/transaction-service/internal/repository"
	"github.com/eaglebank/transaction-service/shared/cqrs"
	"github.com/eaglebank/transaction-service/shared/middleware"
	"github.com/eaglebank/transaction-service/shared/models"
	"github.com/eaglebank/transaction-service/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionCommander defines the write-side operations used by TransactionHandler.
type TransactionCommander interface {
	Transfer(context.Context, cqrs.TransferCommand) (*models.Transaction, error)
	Payment(context.Context, cqrs.PaymentCommand) (*models.Transaction, error)
}

// TransactionQuerier defines the read-side operations used by TransactionHandler.
type TransactionQuerier interface {
	GetTransaction(context.Context, cqrs.GetTransactionQuery) (*models.Transaction, error)
	ListTransactions(context.Context, cqrs.ListTransactionsQuery) (*models.TransactionPage, error)
	ListAccountTransactions(context.Context, cqrs.ListAccountTransactionsQuery) (*models.TransactionPage, error)
}

type TransactionHandler struct {
	commands TransactionCommander
	queries  TransactionQuerier
	logger   *zap.Logger
}

type TransferRequest struct {
	FromAccountID models.FlexibleID `json:"from_account_id" validate:"required"`
	ToAccountID   models.FlexibleID `json:"to_account_id" validate:"required,nefield=FromAccountID"`
	Amount        decimal.Decimal   `json:"amount" validate:"gt=0"`
	Currency      string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Description   string            `json:"description" validate:"max=255"`
}

type PaymentRequest struct {
	AccountID   models.FlexibleID `json:"account_id" validate:"required"`
	Amount      decimal.Decimal   `json:"amount" validate:"gt=0"`
	Recipient   string            `json:"recipient" validate:"required,max=255"`
	Currency    string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Description string            `json:"description" validate:"max=255"`
}

type TransactionResponse struct {
	Message     string              `json:"message,omitempty"`
	Transaction *models.Transaction `json:"transaction"`
}

// FailureResponse is returned when a ledger leg or the local record failed.
type FailureResponse struct {
	Code                   string              `json:"code"`
	Message                string              `json:"message"`
	CorrelationID          string              `json:"correlation_id,omitempty"`
	ReconciliationRequired bool                `json:"reconciliation_required,omitempty"`
	Transaction            *models.Transaction `json:"transaction,omitempty"`
}

func NewTransactionHandler(commands TransactionCommander, queries TransactionQuerier, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{commands: commands, queries: queries, logger: logger}
}

// RegisterRoutes mounts the transaction endpoints on rg.
func (h *TransactionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/transfer", h.Transfer)
	rg.POST("/payment", h.Payment)
	rg.GET("", h.ListTransactions)
	rg.GET("/account/:accountId", h.ListAccountTransactions)
	rg.GET("/:correlationId", h.GetTransaction)
}

func (h *TransactionHandler) Transfer(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	transaction, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		FromAccountID: req.FromAccountID.String(),
		ToAccountID:   req.ToAccountID.String(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   req.Description,
		UserID:        userID,
		Authorization: middleware.GetAuthorization(c),
	})
	if err != nil {
		h.respondWithCommandError(c, "Transfer", err)
		return
	}

	c.JSON(http.StatusCreated, TransactionResponse{
		Message:     "Transfer completed successfully",
		Transaction: transaction,
	})
}

func (h *TransactionHandler) Payment(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	transaction, err := h.commands.Payment(c.Request.Context(), cqrs.PaymentCommand{
		AccountID:     req.AccountID.String(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		Recipient:     req.Recipient,
		Description:   req.Description,
		UserID:        userID,
		Authorization: middleware.GetAuthorization(c),
	})
	if err != nil {
		h.respondWithCommandError(c, "Payment", err)
		return
	}

	c.JSON(http.StatusCreated, TransactionResponse{
		Message:     "Payment completed successfully",
		Transaction: transaction,
	})
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	limit, offset, ok := pagingParams(c)
	if !ok {
		return
	}

	page, err := h.queries.ListTransactions(c.Request.Context(), cqrs.ListTransactionsQuery{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("failed to list transactions", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TransactionHandler) ListAccountTransactions(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	limit, offset, ok := pagingParams(c)
	if !ok {
		return
	}

	page, err := h.queries.ListAccountTransactions(c.Request.Context(), cqrs.ListAccountTransactionsQuery{
		AccountID: c.Param("accountId"),
		UserID:    userID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.logger.Error("failed to list account transactions", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	id := c.Param("correlationId")
	if !utils.ValidateCorrelationID(id) {
		middleware.RespondWithError(c, http.StatusNotFound, "Transaction not found")
		return
	}

	transaction, err := h.queries.GetTransaction(c.Request.Context(), cqrs.GetTransactionQuery{
		CorrelationID: id,
		UserID:        userID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			middleware.RespondWithError(c, http.StatusNotFound, "Transaction not found")
			return
		}
		h.logger.Error("failed to get transaction", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		middleware.RespondWithError(c, http.StatusInternalServerError, "Failed to retrieve transaction")
		return
	}
	c.JSON(http.StatusOK, TransactionResponse{Transaction: transaction})
}

func (h *TransactionHandler) respondWithCommandError(c *gin.Context, operation string, err error) {
	var (
		validationErr *command.ValidationError
		compErr       *command.CompensationFailureError
		legErr        *command.LegError
		recordErr     *command.RecordError
	)
	switch {
	case errors.As(err, &validationErr):
		middleware.RespondWithValidationError(c, []middleware.ValidationError{{
			Field:   validationErr.Field,
			Message: validationErr.Message,
			Type:    "invalid",
		}})
	case errors.As(err, &compErr):
		c.JSON(http.StatusInternalServerError, FailureResponse{
			Code:                   "RECONCILIATION_REQUIRED",
			Message:                operation + " failed and the debited funds could not be restored; the transaction has been queued for reconciliation",
			CorrelationID:          correlationID(compErr.Transaction),
			ReconciliationRequired: true,
			Transaction:            compErr.Transaction,
		})
	case errors.As(err, &legErr):
		c.JSON(http.StatusInternalServerError, FailureResponse{
			Code:          ledger.Reason(legErr.Err),
			Message:       operation + " failed: " + reasonMessage(legErr.Err),
			CorrelationID: correlationID(legErr.Transaction),
			Transaction:   legErr.Transaction,
		})
	case errors.As(err, &recordErr):
		c.JSON(http.StatusInternalServerError, FailureResponse{
			Code:          "RECORD_FAILED",
			Message:       operation + " was applied but could not be recorded",
			CorrelationID: recordErr.CorrelationID,
		})
	default:
		h.logger.Error("unexpected command error", zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		middleware.RespondWithCodedError(c, http.StatusInternalServerError, "INTERNAL_ERROR", operation+" failed")
	}
}

func reasonMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ledger.ErrNotFound):
		return "account not found"
	case errors.Is(err, ledger.ErrInactive):
		return "account is inactive"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "not authorized for account"
	case errors.Is(err, ledger.ErrUnavailable):
		return "account service unavailable"
	default:
		var lerr *ledger.Error
		if errors.As(err, &lerr) && lerr.Message != "" {
			return lerr.Message
		}
		return "request rejected by account service"
	}
}

func correlationID(t *models.Transaction) string {
	if t == nil {
		return ""
	}
	return t.CorrelationID
}

// pagingParams reads limit and offset; it writes a 400 and returns false when
// either is not an integer.
func pagingParams(c *gin.Context) (int, int, bool) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "limit must be an integer")
		return 0, 0, false
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "offset must be an integer")
		return 0, 0, false
	}
	return limit, offset, true
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
