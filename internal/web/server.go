package web

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"photo-compressor-go/internal/compressor"
	"photo-compressor-go/internal/config"
	"photo-compressor-go/internal/handle"
	"photo-compressor-go/internal/registry"
	"photo-compressor-go/internal/statistics"
)

//go:embed static
var staticFiles embed.FS

// Server exposes one compression session to a local browser UI.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*wsClient]struct{}
	wsMutex    sync.Mutex // guards wsClients and closing of client send channels

	// multipart parts above this size are spooled to temp files
	uploadMemory int64

	registry    *registry.Registry
	scheduler   *compressor.Scheduler
	handles     *handle.Manager
	unsubscribe func()

	// Current batch state
	batchMutex sync.Mutex
	current    *batchRun
	lastStats  *statistics.Statistics
}

type batchRun struct {
	cancel context.CancelFunc
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Notification is a short user-facing message pushed to the UI.
type Notification struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"` // success, default or destructive
}

func NewServer(cfg *config.Config, log *logrus.Logger, reg *registry.Registry, sched *compressor.Scheduler, handles *handle.Manager) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*wsClient]struct{}),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local single-user UI
			},
		},
		uploadMemory: 32 << 20,
		registry:     reg,
		scheduler:    sched,
		handles:      handles,
	}

	s.unsubscribe = reg.Subscribe(s.onRegistryEvent)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/images", s.handleListImages).Methods("GET")
	api.HandleFunc("/images", s.handleUpload).Methods("POST")
	api.HandleFunc("/images", s.handleClear).Methods("DELETE")
	api.HandleFunc("/images/{id}", s.handleGetImage).Methods("GET")
	api.HandleFunc("/images/{id}", s.handleRemove).Methods("DELETE")
	api.HandleFunc("/images/{id}/compress", s.handleCompressOne).Methods("POST")
	api.HandleFunc("/images/{id}/requeue", s.handleRequeue).Methods("POST")
	api.HandleFunc("/images/{id}/download", s.handleDownloadOne).Methods("GET")
	api.HandleFunc("/selection", s.handleSelect).Methods("PUT")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/download", s.handleDownload).Methods("GET")

	// Handle payloads referenced by entry URLs
	s.router.HandleFunc("/blob/{id}", s.handleBlob).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	static, _ := fs.Sub(staticFiles, "static")
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(static))).Methods("GET")
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels a running batch, shuts the HTTP server down and releases
// every handle of the session.
func (s *Server) Stop(ctx context.Context) error {
	s.batchMutex.Lock()
	if s.current != nil {
		s.current.cancel()
	}
	s.batchMutex.Unlock()

	s.unsubscribe()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.wsMutex.Lock()
	for c := range s.wsClients {
		s.dropClient(c)
	}
	s.wsMutex.Unlock()

	if n := s.handles.ReleaseAll(); n > 0 {
		s.log.Debugf("Released %d handle(s) on shutdown", n)
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := newWSClient(conn)
	s.wsMutex.Lock()
	s.wsClients[client] = struct{}{}
	s.wsMutex.Unlock()
	s.log.Debug("WebSocket client connected")

	go client.writePump()
	client.readPump()

	s.wsMutex.Lock()
	if _, ok := s.wsClients[client]; ok {
		s.dropClient(client)
	}
	s.wsMutex.Unlock()
	s.log.Debug("WebSocket client disconnected")
}

// dropClient unregisters c and stops its writer. Callers hold wsMutex.
func (s *Server) dropClient(c *wsClient) {
	delete(s.wsClients, c)
	close(c.send)
}

// onRegistryEvent forwards registry changes to every connected client.
func (s *Server) onRegistryEvent(ev registry.Event) {
	switch ev.Type {
	case registry.EventAdded, registry.EventUpdated:
		if entry, ok := s.registry.Get(ev.ID); ok {
			s.broadcastWSMessage(string(ev.Type), entry)
		}
	case registry.EventProgress:
		if entry, ok := s.registry.Get(ev.ID); ok {
			s.broadcastWSMessage(string(ev.Type), map[string]interface{}{
				"id":       entry.ID,
				"progress": entry.Progress,
			})
		}
	case registry.EventSettings:
		s.broadcastWSMessage(string(ev.Type), s.registry.Settings())
	case registry.EventCompressing:
		s.broadcastWSMessage(string(ev.Type), map[string]bool{
			"compressing": s.registry.IsCompressing(),
		})
	default:
		s.broadcastWSMessage(string(ev.Type), map[string]string{"id": ev.ID})
	}
}

func (s *Server) notify(n Notification) {
	s.broadcastWSMessage("notification", n)
}

// broadcastWSMessage queues a message for every client without waiting on
// the network. Registry listeners call it inside mutations, so a client
// whose queue is full is dropped instead of blocking.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for c := range s.wsClients {
		select {
		case c.send <- msgBytes:
		default:
			s.log.Warn("WebSocket client is not keeping up, disconnecting")
			s.dropClient(c)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
