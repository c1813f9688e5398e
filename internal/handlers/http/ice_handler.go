package http

import (
	"net/http"

	webrtc "github.com/pion/webrtc/v3"

	"github.com/gin-gonic/gin"
)

// ICEHandler exposes the configured STUN/TURN server list so clients can
// build their own webrtc.Configuration without embedding credentials.
type ICEHandler struct {
	iceServers []webrtc.ICEServer
}

func NewICEHandler(iceServers []webrtc.ICEServer) *ICEHandler {
	return &ICEHandler{iceServers: iceServers}
}

func (h *ICEHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/api/v1/ice-servers", h.GetICEServers)
}

type iceServerResponse struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (h *ICEHandler) GetICEServers(c *gin.Context) {
	servers := make([]iceServerResponse, 0, len(h.iceServers))
	for _, s := range h.iceServers {
		cred, _ := s.Credential.(string)
		servers = append(servers, iceServerResponse{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: cred,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ice_servers": servers})
}
