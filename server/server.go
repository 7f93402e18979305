// Package server exposes the status feed and the feature buttons over HTTP
// and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/nedpals/davi-device-agent/actions"
	"github.com/nedpals/davi-device-agent/buildinfo"
	"github.com/nedpals/davi-device-agent/status"
)

// Config holds the server configuration.
type Config struct {
	Feed     *status.Feed
	Features *actions.Features
	Port     int
	// APISecret, when set, must be passed as ?secret= to open /ws.
	APISecret string
	MDNS      bool
	// CertFile and KeyFile switch the listener to TLS.
	CertFile string
	KeyFile  string
	// CACertFile is served at /ca.pem so clients can trust the local CA.
	CACertFile string
}

// Server serves /api/v1/health, /api/v1/status and /ws.
type Server struct {
	Logger *log.Logger

	config      Config
	hub         *Hub
	registry    *HandlerRegistry
	upgrader    websocket.Upgrader
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
}

// New creates a server and subscribes it to the feed. Call Stop to
// release it.
func New(config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Logger:   log.New(os.Stderr, "[server] ", log.LstdFlags),
		config:   config,
		hub:      NewHub(),
		registry: NewHandlerRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.hub.Logger = s.Logger

	if config.Feed != nil {
		s.unsubscribe = config.Feed.Subscribe(s.hub.PublishEvent)
	}
	if config.Features != nil {
		NewFeatureHandler(config.Features, config.Feed).Register(s)
	}
	return s
}

// Handle implements HandlerServer.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.registry.Handle(messageType, handler)
}

// StartLifecycle implements HandlerServer.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.registry.RegisterLifecycle(start)
}

// Hub returns the client hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(getOnly(s.handleHealthCheck)))
	mux.HandleFunc(apiV1+"/status", enableCORS(getOnly(s.handleStatus)))
	mux.HandleFunc("/ws", enableCORS(s.handleWebSocket))
	if s.config.CACertFile != "" {
		mux.HandleFunc("/ca.pem", s.handleCACert)
	}
	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "%s running", buildinfo.DisplayName)
	}))
	return mux
}

// Start listens on the configured port and blocks until Stop is called or
// the listener fails.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			s.Logger.Printf("Starting server on https://%s", ln.Addr())
			err = httpServer.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.Logger.Printf("Starting server on http://%s", ln.Addr())
			err = httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.config.MDNS {
		if err := s.startMDNS(ln.Addr().(*net.TCPAddr).Port); err != nil {
			s.Logger.Printf("Warning: failed to start mDNS service: %v", err)
			s.Logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	s.registry.StartLifecycleHandlers(s.ctx)

	select {
	case <-s.ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	}
}

// Addr returns the listening address once Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop unregisters mDNS, closes every client and shuts the listener down.
func (s *Server) Stop() {
	s.mu.Lock()
	mdnsServer, httpServer := s.mdnsServer, s.httpServer
	s.mdnsServer, s.httpServer = nil, nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.Logger.Printf("mDNS service stopped")
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.CloseAll()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.Logger.Printf("Server shutdown error: %v", err)
		}
	}
	s.cancel()
}

func (s *Server) startMDNS(port int) error {
	txtRecords := []string{
		"version=" + buildinfo.FullVersion(),
		"protocol=websocket",
		"path=/ws",
	}
	if s.config.CertFile != "" {
		txtRecords = append(txtRecords, "tls=1")
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.Logger.Printf("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, port)
	return nil
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Encode JSON response: %v", err)
	}
}

// handleHealthCheck serves GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"version":   buildinfo.FullVersion(),
		"requests":  s.registry.MessageTypes(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus serves GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) snapshot() SnapshotPayload {
	payload := SnapshotPayload{Lines: []status.Event{}}
	if s.config.Feed != nil {
		if lines := s.config.Feed.Snapshot(); lines != nil {
			payload.Lines = lines
		}
	}
	if s.config.Features != nil {
		payload.Running = s.config.Features.Running()
	}
	return payload
}

func (s *Server) handleCACert(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.config.CACertFile)
	if err != nil {
		http.Error(w, "CA certificate not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", "attachment; filename=\"ca.pem\"")
	w.Write(data)
}

// handleWebSocket sends the label snapshot, then streams status events and
// answers requests until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.APISecret != "" && r.URL.Query().Get("secret") != s.config.APISecret {
		s.Logger.Printf("WebSocket connection from %s rejected: invalid API secret", r.RemoteAddr)
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := newClient(conn)
	s.hub.add(client)
	s.Logger.Printf("WebSocket client %s connected from %s", client.ID, r.RemoteAddr)
	defer func() {
		s.hub.remove(client)
		client.Close()
		s.Logger.Printf("WebSocket client %s disconnected", client.ID)
	}()

	// Events posted from here on are queued; the snapshot covers the rest.
	snap := s.snapshot()
	for _, ev := range snap.Lines {
		if ev.Seq > client.watermark {
			client.watermark = ev.Seq
		}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Message{Type: WSMessageTypeStatusSnapshot, Payload: snap}); err != nil {
		s.Logger.Printf("Send snapshot to %s: %v", client.ID, err)
		return
	}
	go client.writePump(s.Logger)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.Logger.Printf("Failed to parse WebSocket message: %v", err)
			client.Send(errorResponse("", ErrCodeParse, "Invalid message format"))
			continue
		}

		err = s.registry.Dispatch(s.ctx, client, req)
		switch {
		case errors.Is(err, ErrUnknownType):
			s.Logger.Printf("Unknown message type: %s", req.Type)
			client.Send(errorResponse(req.ID, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type)))
		case err != nil:
			s.Logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}
