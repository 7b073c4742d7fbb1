package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-allocation-api/internal/dto"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
	"github.com/noah-isme/hostel-allocation-api/pkg/response"
)

type waitlistLister interface {
	List(ctx context.Context, query dto.WaitlistQuery) ([]models.WaitlistEntry, *models.Pagination, error)
}

// WaitlistHandler exposes waitlist queries.
type WaitlistHandler struct {
	service waitlistLister
}

// NewWaitlistHandler builds a new handler.
func NewWaitlistHandler(service waitlistLister) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// List godoc
// @Summary List one waitlist bucket ordered by rank
// @Tags Waitlist
// @Produce json
// @Param hostelId query string false "Hostel bucket (omit for applications without a hostel preference)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	var query dto.WaitlistQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid waitlist query"))
		return
	}
	entries, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}
