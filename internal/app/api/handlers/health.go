package handlers

import (
	"net/http"

	"github.com/quiethall/doorman/pkg/response"

	"github.com/gin-gonic/gin"
)

// @Summary      Liveness probe
// @Description  Plain-text liveness check used by uptime monitors
// @Tags         System
// @Produce      plain
// @Success      200  {string}  string  "Bot is Online"
// @Router       / [get]
func Root(c *gin.Context) {
	c.String(http.StatusOK, "Bot is Online")
}

// @Summary      Health check
// @Description  Returns service status
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
}

func RegisterHealthRoutes(r gin.IRouter) {
	r.GET("/", Root)
	r.GET("/healthz", Healthz)
}
