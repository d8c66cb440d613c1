package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/quiethall/doorman/pkg/logctx"
	"github.com/quiethall/doorman/pkg/response"
	"github.com/quiethall/doorman/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// UpdateRoleRequest is the payload pushed by the verification backend when a
// member's subscription state changes. Older backend versions send the member
// id under discord_id or discordId, so all three spellings are accepted.
type UpdateRoleRequest struct {
	MemberID        string     `json:"member_id"`
	DiscordID       string     `json:"discord_id"`
	DiscordIDLegacy string     `json:"discordId"`
	Status          string     `json:"status"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
}

func (r *UpdateRoleRequest) memberID() string {
	return lo.CoalesceOrEmpty(r.MemberID, r.DiscordID, r.DiscordIDLegacy)
}

// Activator is the slice of the membership service the webhook needs.
type Activator interface {
	Activate(ctx context.Context, memberID string, subscriptionEnd *time.Time) error
}

// @Summary      Subscription update webhook
// @Description  Receives subscription status pushes from the verification backend. An "active" status promotes the member immediately; any other status is acknowledged without action.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body UpdateRoleRequest true "Subscription update"
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespOK
// @Router       /update-role [post]
func ApiUpdateRole(members Activator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid JSON body"))
			return
		}

		memberID := req.memberID()
		if memberID == "" || req.Status == "" {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "member_id and status are required"))
			return
		}

		reqLog := logctx.FromGin(c, log).With("member_id", memberID, "status", req.Status)
		reqLog.Infow("webhook_update_role_received")

		if req.Status != string(types.SubscriptionStatusActive) {
			// Valid input with a non-activating status. Nothing to do here;
			// demotions are the scan loop's job.
			if !types.SubscriptionStatus(req.Status).Valid() {
				reqLog.Warnw("webhook_update_role_unknown_status")
			}
			reqLog.Infow("webhook_update_role_ignored")
			c.JSON(http.StatusOK, response.OKT[any](nil))
			return
		}

		if err := members.Activate(c.Request.Context(), memberID, req.SubscriptionEnd); err != nil {
			reqLog.Errorw("webhook_update_role_error", "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		reqLog.Infow("webhook_update_role_handled")
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, members Activator, log *zap.SugaredLogger) {
	r.POST("/update-role", ApiUpdateRole(members, log))
}
