package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// InfoResponse describes the gateway and its network.
type InfoResponse struct {
	NetworkName string `json:"network_name"`
	Channel     uint8  `json:"channel"`
	Address     string `json:"address"`
	NodeCount   int    `json:"node_count"`
	MaxNodes    int    `json:"max_nodes"`
}

// handleInfo handles GET /api/gw/info.
func (s *Server) handleInfo(c *gin.Context) {
	identity := s.gateway.Identity()
	c.JSON(http.StatusOK, InfoResponse{
		NetworkName: identity.NetworkName,
		Channel:     identity.Channel,
		Address:     s.gateway.Address().String(),
		NodeCount:   s.gateway.NodeCount(),
		MaxNodes:    s.gateway.MaxNodes(),
	})
}

// handleRestart handles POST /api/gw/restart. The restart itself is the
// embedding application's job; this only raises the request.
func (s *Server) handleRestart(c *gin.Context) {
	if err := s.gateway.RequestRestart(); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Restart request failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Restart requested",
	})
}
