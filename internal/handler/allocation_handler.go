package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-allocation-api/internal/dto"
	"github.com/noah-isme/hostel-allocation-api/internal/models"
	appErrors "github.com/noah-isme/hostel-allocation-api/pkg/errors"
	"github.com/noah-isme/hostel-allocation-api/pkg/response"
)

type batchRunner interface {
	Run(ctx context.Context, actorID string) (*models.AllocationRunStats, error)
	Trigger(actorID string) (string, error)
	LatestRun(ctx context.Context) (*models.AllocationRunStats, error)
}

type bedAssigner interface {
	AssignBed(ctx context.Context, applicationID string, req dto.AssignBedRequest, actorID string) (*models.Allocation, error)
}

// AllocationHandler exposes batch allocation and manual assignment endpoints.
type AllocationHandler struct {
	runs     batchRunner
	assigner bedAssigner
}

// NewAllocationHandler builds a new handler.
func NewAllocationHandler(runs batchRunner, assigner bedAssigner) *AllocationHandler {
	return &AllocationHandler{runs: runs, assigner: assigner}
}

// TriggerRun godoc
// @Summary Start a batch allocation run
// @Tags Allocations
// @Produce json
// @Param wait query bool false "Run synchronously and return statistics"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /allocations/runs [post]
func (h *AllocationHandler) TriggerRun(c *gin.Context) {
	actor := actorID(c)
	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		stats, err := h.runs.Run(c.Request.Context(), actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, stats, nil)
		return
	}

	runID, err := h.runs.Trigger(actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, dto.RunTriggerResponse{RunID: runID, Status: "queued"}, nil)
}

// LatestRun godoc
// @Summary Statistics of the latest batch allocation run
// @Tags Allocations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /allocations/runs/latest [get]
func (h *AllocationHandler) LatestRun(c *gin.Context) {
	stats, err := h.runs.LatestRun(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// AssignBed godoc
// @Summary Allocate a specific bed to an application
// @Tags Allocations
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body dto.AssignBedRequest true "Bed to assign"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/assign [post]
func (h *AllocationHandler) AssignBed(c *gin.Context) {
	var req dto.AssignBedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assignment payload"))
		return
	}
	allocation, err := h.assigner.AssignBed(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewAllocationResponse(allocation))
}
