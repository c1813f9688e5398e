package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/core/services"
	"rillnet/internal/infrastructure/distributed"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 60 * time.Second
	defaultMaxMessageSize   = 64 * 1024
	defaultOutboundCapacity = 256
	writeWait               = 10 * time.Second
)

// socketConn wraps one upgraded WebSocket with a buffered outbound queue
// drained by a single writer goroutine — the goroutine owns the write
// half of the connection exclusively, so dispatcher/registry callers never
// touch the socket directly. The queue is bounded at
// defaultOutboundCapacity messages; Send drops a message when it is full.
type socketConn struct {
	id   domain.ConnectionID
	conn *websocket.Conn

	outbound chan interface{}
	done     chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

var _ ConnectionSender = (*socketConn)(nil)

func newSocketConn(id domain.ConnectionID, conn *websocket.Conn, logger *zap.SugaredLogger) *socketConn {
	return &socketConn{
		id:       id,
		conn:     conn,
		outbound: make(chan interface{}, defaultOutboundCapacity),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Send enqueues a message for delivery. A full queue is a ResourceLimit
// condition (§7): the message is dropped and logged, never blocking the
// caller or affecting other recipients.
func (s *socketConn) Send(message interface{}) error {
	select {
	case s.outbound <- message:
		return nil
	default:
		return fmt.Errorf("outbound queue full for connection %s", s.id)
	}
}

func (s *socketConn) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *socketConn) writeLoop(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.outbound:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debugw("websocket write failed", "connection", s.id, "error", err)
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

// WebSocketServer is the transport layer: it upgrades HTTP connections,
// enforces connection/message rate limits, and feeds every decoded frame
// to the Dispatcher. It owns nothing about SFU or text-fan-out semantics.
type WebSocketServer struct {
	dispatcher *Dispatcher
	registry   *ConnectionRegistry

	upgrader websocket.Upgrader

	pingInterval   time.Duration
	pongTimeout    time.Duration
	maxMessageSize int64

	connRateLimiter *rate.Limiter
	msgRate         rate.Limit
	msgBurst        int
	connSem         chan struct{}

	mu      sync.Mutex
	sockets map[domain.ConnectionID]*socketConn

	logger *zap.SugaredLogger
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

func NewWebSocketServer(
	registry *ConnectionRegistry,
	authService services.AuthService,
	sfu ports.SFUService,
	channels ports.ChannelDirectoryService,
	events *distributed.EventBus,
	allowedOrigins []string,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		originSet[origin] = struct{}{}
	}

	return &WebSocketServer{
		dispatcher: NewDispatcher(registry, authService, sfu, channels, events, logger),
		registry:   registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				_, ok := originSet[r.Header.Get("Origin")]
				return ok
			},
		},
		pingInterval:   defaultPingInterval,
		pongTimeout:    defaultPongTimeout,
		maxMessageSize: defaultMaxMessageSize,
		sockets:        make(map[domain.ConnectionID]*socketConn),
		logger:         logger,
	}
}

func (s *WebSocketServer) SetPingInterval(d time.Duration)   { s.pingInterval = d }
func (s *WebSocketServer) SetPongTimeout(d time.Duration)    { s.pongTimeout = d }
func (s *WebSocketServer) SetMaxMessageSize(n int64)         { s.maxMessageSize = n }

// SetConnectionRateLimit caps new connection upgrades per minute, globally.
func (s *WebSocketServer) SetConnectionRateLimit(perMinute int) {
	s.connRateLimiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// SetMessageRateLimit caps inbound messages per second, per connection.
func (s *WebSocketServer) SetMessageRateLimit(perSecond float64, burst int) {
	s.msgRate = rate.Limit(perSecond)
	s.msgBurst = burst
}

func (s *WebSocketServer) SetMaxConcurrentConnections(max int) {
	s.connSem = make(chan struct{}, max)
}

// HandleWebSocket upgrades the HTTP request, registers the connection with
// the dispatcher, and drains inbound frames until the socket closes.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connRateLimiter != nil && !s.connRateLimiter.Allow() {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if s.connSem != nil {
		select {
		case s.connSem <- struct{}{}:
			defer func() { <-s.connSem }()
		default:
			http.Error(w, "too many concurrent connections", http.StatusServiceUnavailable)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}

	connID := domain.ConnectionID(uuid.New().String())
	sc := newSocketConn(connID, conn, s.logger)

	conn.SetReadLimit(s.maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	s.mu.Lock()
	s.sockets[connID] = sc
	s.mu.Unlock()

	s.dispatcher.HandleConnect(connID, sc)
	go sc.writeLoop(s.pingInterval)

	var msgLimiter *rate.Limiter
	if s.msgRate > 0 {
		msgLimiter = rate.NewLimiter(s.msgRate, s.msgBurst)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgLimiter != nil && !msgLimiter.Allow() {
			continue
		}
		s.dispatcher.HandleMessage(connID, data)
	}

	s.mu.Lock()
	delete(s.sockets, connID)
	s.mu.Unlock()

	sc.close()
	s.dispatcher.HandleClose(connID)
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","connections":%d}`, s.OnlineUserCount())
}

func (s *WebSocketServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	s.HandleWebSocket(w, r)
}

func (s *WebSocketServer) OnlineUserCount() int {
	return s.registry.OnlineUserCount()
}

func (s *WebSocketServer) IsUserOnline(userID domain.UserID) bool {
	return s.registry.IsUserOnline(userID)
}

// Shutdown closes every live socket so each connection's read loop exits
// and runs the dispatcher's Closed-state cleanup.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sockets := make([]*socketConn, 0, len(s.sockets))
	for _, sc := range s.sockets {
		sockets = append(sockets, sc)
	}
	s.mu.Unlock()

	for _, sc := range sockets {
		sc.close()
	}
	return nil
}
