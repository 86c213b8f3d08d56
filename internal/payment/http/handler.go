package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hien22444/WDP-LM-sub000/internal/auth"
	"github.com/hien22444/WDP-LM-sub000/internal/payment"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/request"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/response"
)

const (
	maxWebhookBody  = 1 << 20
	SignatureHeader = "X-Webhook-Signature"
)

type Handler struct {
	service payment.Service
}

func NewHandler(service payment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var body CreateOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BindError(c, err)
		return
	}

	o, err := h.service.CreateOrder(c.Request.Context(), body.toDomain(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewOrderResponse(o))
}

// ownOrder loads the order and checks the caller may see it.
func (h *Handler) ownOrder(c *gin.Context) (*payment.Order, bool) {
	var uri request.ByOrderCodeRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return nil, false
	}

	o, err := h.service.GetOrder(c.Request.Context(), uri.Code)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if o.RequesterID != auth.GetUserID(c) && !auth.IsAdmin(c) {
		response.Error(c, payment.ErrPermissionDenied)
		return nil, false
	}
	return o, true
}

func (h *Handler) GetOrder(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, NewOrderResponse(o))
}

func (h *Handler) VerifyOrder(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}

	verified, err := h.service.VerifyOrder(c.Request.Context(), o.OrderCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, NewOrderResponse(verified))
}

// Webhook acknowledges every structurally processed push with 200 so gateways stop
// retrying, including malformed payloads, unknown orders and business failures.
// Two cases are not acknowledged: a bad signature gets 401, and a storage failure
// before the signal was recorded gets 503 so the gateway redelivers it instead of
// the success being lost.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BindError(c, err)
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, payment.ErrInvalidSignature):
		response.Error(c, err)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{Error: "temporarily unavailable"})
	}
}
