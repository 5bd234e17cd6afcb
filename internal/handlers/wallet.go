package handlers

import (
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"

	"autobox/internal/gateway/webpay"
	"autobox/internal/models"
	"autobox/internal/services/ledger"
	"autobox/internal/services/payment"
	"autobox/internal/services/reconciliation"
	"autobox/internal/services/wallet"
	"autobox/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type WalletHandler struct {
	walletService *wallet.Service
}

func NewWalletHandler(walletService *wallet.Service) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	details, err := h.walletService.GetWallet(c.Context(), userID)
	if err != nil {
		return utils.InternalError(c, "failed to load wallet")
	}
	return utils.Success(c, details)
}

func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	balance, err := h.walletService.GetBalance(c.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return utils.NotFound(c, "user not found")
		}
		return utils.InternalError(c, "failed to load balance")
	}
	return utils.Success(c, fiber.Map{"balance": balance, "currency": "CLP"})
}

func (h *WalletHandler) GetTransactions(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	transactions, err := h.walletService.GetTransactions(c.Context(), userID, limit)
	if err != nil {
		return utils.InternalError(c, "failed to load transactions")
	}
	return utils.Success(c, fiber.Map{"transactions": transactions})
}

// InitDeposit starts a card deposit and returns the gateway redirect.
func (h *WalletHandler) InitDeposit(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req models.DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}

	session, err := h.walletService.InitDeposit(c.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			return utils.BadRequest(c, err.Error())
		case isGatewayError(err):
			return utils.BadGateway(c, "card gateway unavailable")
		default:
			return utils.InternalError(c, "failed to start deposit")
		}
	}
	return utils.Created(c, session)
}

// ConfirmDeposit resolves a deposit from the authenticated API, using
// the token the client received at init time.
func (h *WalletHandler) ConfirmDeposit(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return utils.BadRequest(c, "missing token")
	}

	result, err := h.walletService.ConfirmDeposit(c.Context(), token)
	if err != nil {
		return h.confirmError(c, err)
	}
	if !result.Success {
		return utils.Respond(c, fiber.StatusPaymentRequired, result)
	}
	return utils.Success(c, result)
}

// DepositReturn is the public endpoint the gateway redirects the user
// to after the card form. The token arrives as token_ws in the form
// body or the query string; the response is a small HTML page since
// the browser lands here directly.
func (h *WalletHandler) DepositReturn(c *fiber.Ctx) error {
	token := c.FormValue("token_ws")
	if token == "" {
		token = c.Query("token_ws")
	}
	// An aborted payment redirects back with TBK_TOKEN instead
	if token == "" {
		if c.FormValue("TBK_TOKEN") != "" || c.Query("TBK_TOKEN") != "" {
			return h.renderOutcome(c, false, "El pago fue cancelado.")
		}
		return h.renderOutcome(c, false, "Token de pago no recibido.")
	}

	result, err := h.walletService.ConfirmDeposit(c.Context(), token)
	if err != nil {
		log.Printf("deposit return confirmation failed for token %s: %v", token, err)
		if errors.Is(err, webpay.ErrTimeout) {
			return h.renderOutcome(c, false, "No pudimos confirmar el pago. Intenta nuevamente en unos minutos.")
		}
		return h.renderOutcome(c, false, "No pudimos procesar el pago.")
	}
	if !result.Success {
		return h.renderOutcome(c, false, "El pago fue rechazado por el banco.")
	}
	return h.renderOutcome(c, true, fmt.Sprintf("Tu billetera fue recargada con $%d.", result.Payment.Amount))
}

// MakePayment debits the wallet to pay for a service.
func (h *WalletHandler) MakePayment(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req models.WalletPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, "invalid request body")
	}

	receipt, err := h.walletService.MakePayment(c.Context(), userID, req.Amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			return utils.BadRequest(c, err.Error())
		case errors.Is(err, wallet.ErrInsufficientBalance):
			return utils.BadRequest(c, err.Error())
		default:
			return utils.InternalError(c, "payment failed")
		}
	}
	return utils.Success(c, receipt)
}

// RefundDeposit reverses a completed card deposit. Admin only.
func (h *WalletHandler) RefundDeposit(c *fiber.Ctx) error {
	paymentID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return utils.BadRequest(c, "invalid payment id")
	}

	result, err := h.walletService.RefundDeposit(c.Context(), uint(paymentID))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrPaymentNotFound):
			return utils.NotFound(c, "payment not found")
		case errors.Is(err, reconciliation.ErrNotRefundable):
			return utils.Conflict(c, err.Error())
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return utils.Conflict(c, "deposit already spent, wallet balance too low to reverse")
		case isGatewayError(err):
			return utils.BadGateway(c, "card gateway unavailable")
		default:
			return utils.InternalError(c, "refund failed")
		}
	}
	return utils.Success(c, result)
}

func (h *WalletHandler) confirmError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, reconciliation.ErrTokenNotFound):
		return utils.NotFound(c, "unknown payment token")
	case errors.Is(err, webpay.ErrTimeout):
		// The gateway outcome is unknown; the client may retry
		return utils.BadGateway(c, "confirmation timed out, retry later")
	default:
		return utils.InternalError(c, "confirmation failed")
	}
}

func (h *WalletHandler) renderOutcome(c *fiber.Ctx, success bool, message string) error {
	title := "Pago exitoso"
	if !success {
		title = "Pago no completado"
	}
	page := fmt.Sprintf(`<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<h1>%s</h1>
<p>%s</p>
<p>Ya puedes cerrar esta ventana y volver a la aplicación.</p>
</body>
</html>`, html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
	return c.Type("html").SendString(page)
}

func isGatewayError(err error) bool {
	var apiErr *webpay.APIError
	return errors.Is(err, webpay.ErrTimeout) || errors.As(err, &apiErr)
}
