package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hien22444/WDP-LM-sub000/internal/auth"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/request"
	"github.com/hien22444/WDP-LM-sub000/internal/pkg/response"
	"github.com/hien22444/WDP-LM-sub000/internal/slot"
)

type Handler struct {
	service slot.Service
}

func NewHandler(service slot.Service) *Handler {
	return &Handler{service: service}
}

// List is public: requesters discover open slots without an account.
func (h *Handler) List(c *gin.Context) {
	var req ListSlotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BindError(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, err)
		return
	}

	filter := slot.Filter{
		ProviderID: req.ProviderID,
		Status:     req.Status,
		StartTime:  req.From,
		EndTime:    req.To,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}

	slots, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]SlotResponse, len(slots))
	for i, s := range slots {
		items[i] = NewSlotResponse(s)
	}
	c.JSON(http.StatusOK, response.NewPageResponse(items, req.Page, req.PageSize, total))
}

func (h *Handler) Get(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}

	s, err := h.service.GetByID(c.Request.Context(), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSlotResponse(s))
}

// Create opens a slot owned by the authenticated provider.
func (h *Handler) Create(c *gin.Context) {
	var body CreateSlotRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BindError(c, err)
		return
	}
	if err := body.Validate(); err != nil {
		response.Error(c, err)
		return
	}

	s, err := h.service.Create(c.Request.Context(), body.toDomain(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewSlotResponse(s))
}

func (h *Handler) Close(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.Close(c.Request.Context(), uri.ID, auth.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Delete(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), uri.ID, auth.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
