package v1

import (
	"net/http"

	"github.com/flexprice/billsync/internal/api/dto"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/service"
	"github.com/gin-gonic/gin"
)

// RunLocker guards batch runs against overlap
type RunLocker interface {
	TryLock() (string, bool, error)
	Release(token string) error
}

// SyncHandler exposes manual deal and batch syncs
type SyncHandler struct {
	syncService service.ContractSyncService
	locker      RunLocker
	logger      *logger.Logger
}

func NewSyncHandler(
	syncService service.ContractSyncService,
	locker RunLocker,
	logger *logger.Logger,
) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		locker:      locker,
		logger:      logger,
	}
}

// @Summary Sync a deal
// @Description Reconciles the billing and forecast tickets of one deal
// @Tags Sync
// @Produce json
// @Param deal_id path string true "Deal ID"
// @Param dry_run query bool false "Compute the plan without writing"
// @Param today query string false "Override today (YYYY-MM-DD)"
// @Success 200 {object} service.DealSyncResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/sync/deals/{deal_id} [post]
func (h *SyncHandler) SyncDeal(c *gin.Context) {
	var req dto.SyncRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		NewErrorResponse(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	result, err := h.syncService.SyncDeal(c.Request.Context(), c.Param("deal_id"), req.ToOptions())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// @Summary Sync all deals
// @Description Runs a batch sync over every active deal of the configured pipeline
// @Tags Sync
// @Produce json
// @Param dry_run query bool false "Compute the plan without writing"
// @Param today query string false "Override today (YYYY-MM-DD)"
// @Success 200 {object} dto.BatchSyncResponse
// @Failure 409 {object} ErrorResponse
// @Router /v1/sync/all [post]
func (h *SyncHandler) SyncAll(c *gin.Context) {
	var req dto.SyncRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		NewErrorResponse(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	token, ok, err := h.locker.TryLock()
	if err != nil {
		c.Error(err)
		return
	}
	if !ok {
		c.Error(ierr.NewError("run lock held").
			WithHint("A batch sync is already running").
			Mark(ierr.ErrAlreadyExists))
		return
	}
	defer func() {
		if err := h.locker.Release(token); err != nil {
			h.logger.Errorw("failed to release run lock", "error", err)
		}
	}()

	summary, err := h.syncService.SyncAll(c.Request.Context(), req.ToOptions())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewBatchSyncResponse(summary))
}
