package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	webrtc "github.com/pion/webrtc/v3"

	"github.com/gin-gonic/gin"
)

func TestICEHandler_GetICEServers(t *testing.T) {
	gin.SetMode(gin.TestMode)

	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"},
	}
	handler := NewICEHandler(servers)

	router := gin.New()
	handler.SetupRoutes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/ice-servers", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		ICEServers []iceServerResponse `json:"ice_servers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("expected 2 ice servers, got %d", len(body.ICEServers))
	}
	if body.ICEServers[1].Username != "u" || body.ICEServers[1].Credential != "p" {
		t.Errorf("unexpected turn server entry: %+v", body.ICEServers[1])
	}
}

func TestICEHandler_EmptyServerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewICEHandler(nil)

	router := gin.New()
	handler.SetupRoutes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/ice-servers", nil)
	router.ServeHTTP(w, req)

	var body struct {
		ICEServers []iceServerResponse `json:"ice_servers"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.ICEServers) != 0 {
		t.Errorf("expected no ice servers, got %d", len(body.ICEServers))
	}
}
