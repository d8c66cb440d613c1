package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/quiethall/doorman/internal/models"
	"github.com/quiethall/doorman/pkg/logctx"
	"github.com/quiethall/doorman/pkg/response"
	"github.com/quiethall/doorman/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	defaultScanLogLimit = 20
	maxScanLogLimit     = 200
)

// ScanLogLister is the slice of the record service the admin API needs.
type ScanLogLister interface {
	RecentScanLogs(ctx context.Context, limit int) ([]*models.ScanLog, error)
}

// ScanLogItem is the API view of one completed scan pass.
type ScanLogItem struct {
	ID         string            `json:"id"`
	Trigger    types.ScanTrigger `json:"trigger"`
	Promoted   int               `json:"promoted"`
	Demoted    int               `json:"demoted"`
	Kicked     int               `json:"kicked"`
	Skipped    int               `json:"skipped"`
	Errored    int               `json:"errored"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func toScanLogItem(m *models.ScanLog) ScanLogItem {
	return ScanLogItem{
		ID:         m.ID,
		Trigger:    m.Trigger,
		Promoted:   m.Promoted,
		Demoted:    m.Demoted,
		Kicked:     m.Kicked,
		Skipped:    m.Skipped,
		Errored:    m.Errored,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
}

// @Summary      List recent scan passes
// @Description  Returns the most recent scan outcomes, newest first
// @Tags         Admin
// @Produce      json
// @Param        limit query int false "Max entries to return (default 20, max 200)"
// @Success      200  {object}  handlers.RespScanLogs
// @Router       /api/v1/admin/scan-logs [get]
func ApiListScanLogs(records ScanLogLister, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultScanLogLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "limit must be a positive integer"))
				return
			}
			limit = min(n, maxScanLogLimit)
		}

		logs, err := records.RecentScanLogs(c.Request.Context(), limit)
		if err != nil {
			logctx.FromGin(c, log).Errorw("list_scan_logs_error", "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(lo.Map(logs, func(m *models.ScanLog, _ int) ScanLogItem {
			return toScanLogItem(m)
		})))
	}
}

func RegisterAdminRoutes(r gin.IRouter, records ScanLogLister, log *zap.SugaredLogger) {
	r.GET("/scan-logs", ApiListScanLogs(records, log))
}
