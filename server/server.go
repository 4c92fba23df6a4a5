package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/btreceiver/btreceiverd/bluetooth"
	"github.com/btreceiver/btreceiverd/player"
	"github.com/btreceiver/btreceiverd/utils"
)

// Registry is the Bluetooth device registry the API drives.
type Registry interface {
	Adapter(ctx context.Context) (bluetooth.AdapterState, error)
	ListDevices(ctx context.Context) ([]bluetooth.Device, error)
	ConnectedDevice(ctx context.Context) (*bluetooth.Device, error)
	SetDiscoverable(ctx context.Context, on bool, timeoutSeconds int) error
	RemoveDevice(ctx context.Context, address string) error
	TrustDevice(ctx context.Context, address string) error
}

// Mixer reads and writes the output volume.
type Mixer interface {
	GetVolume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, level int) (int, error)
}

// Player is the USB playback controller.
type Player interface {
	Status() player.Status
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	ToggleShuffle() bool
}

// SystemInfo describes the host for /api/status.
type SystemInfo interface {
	Hostname() string
	IPAddress() string
	Online() bool
}

// Deps are the components the server exposes. Units and RestartUnits back
// /api/restart and may be empty.
type Deps struct {
	Registry     Registry
	Mixer        Mixer
	Player       Player
	System       SystemInfo
	Units        utils.UnitController
	RestartUnits []string
	Hub          *utils.WebSocketHub
}

// Server is the HTTP control API.
type Server struct {
	deps     Deps
	volume   *volumeCoalescer
	upgrader websocket.Upgrader
	handler  http.Handler
	server   *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Hub == nil {
		deps.Hub = utils.NewWebSocketHub()
	}
	s := &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.volume = newVolumeCoalescer(func(ctx context.Context, level int) (int, error) {
		return s.deps.Mixer.SetVolume(ctx, level)
	})
	s.handler = s.routes()
	return s
}

// Handler returns the full handler tree, including /ws.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.methodHandler("GET", s.handleStatus))
	mux.HandleFunc("/api/devices", s.methodHandler("GET", s.handleDevices))
	mux.HandleFunc("/api/discoverable", s.methodHandler("POST", s.handleDiscoverable))
	mux.HandleFunc("/api/device/", s.handleDeviceRoute)
	mux.HandleFunc("/api/volume", s.multiMethodHandler([]string{"GET", "POST"}, s.handleVolume))
	mux.HandleFunc("/api/restart", s.methodHandler("POST", s.handleRestart))

	mux.HandleFunc("/api/usb/status", s.methodHandler("GET", s.handleUSBStatus))
	mux.HandleFunc("/api/usb/play", s.methodHandler("POST", s.usbAction("play", s.deps.Player.Play)))
	mux.HandleFunc("/api/usb/stop", s.methodHandler("POST", s.usbAction("stop", s.deps.Player.Stop)))
	mux.HandleFunc("/api/usb/next", s.methodHandler("POST", s.usbAction("next", s.deps.Player.Next)))
	mux.HandleFunc("/api/usb/previous", s.methodHandler("POST", s.usbAction("previous", s.deps.Player.Previous)))
	mux.HandleFunc("/api/usb/shuffle", s.methodHandler("POST", s.handleUSBShuffle))

	mux.HandleFunc("/", s.handleNotFound)

	handler := loggingMiddleware(corsMiddleware(mux))

	// The WebSocket endpoint bypasses the middleware: the recorder would
	// hide the Hijacker the upgrade needs.
	mainMux := http.NewServeMux()
	mainMux.HandleFunc("/ws", s.handleWebSocket)
	mainMux.Handle("/", handler)
	return mainMux
}

// Start serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP_SRV: Starting HTTP server on port %d", port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("HTTP_SRV: Shutting down server...")
	s.deps.Hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Println("HTTP_SRV: Server gracefully stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("HTTP_SRV: Failed to upgrade connection: %v", err)
		return
	}
	s.deps.Hub.AddClient(conn)

	// Drain reads so close frames are noticed.
	go func() {
		defer s.deps.Hub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware tags every request with an id and logs it.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Printf("HTTP_SRV: %s %s %d %v [%s]", r.Method, r.URL.Path, rec.statusCode, time.Since(start), requestID)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// methodHandler creates a handler that only accepts specific HTTP methods
func (s *Server) methodHandler(method string, handler http.HandlerFunc) http.HandlerFunc {
	return s.multiMethodHandler([]string{method}, handler)
}

// multiMethodHandler creates a handler that accepts multiple HTTP methods
func (s *Server) multiMethodHandler(methods []string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, method := range methods {
			if r.Method == method {
				handler(w, r)
				return
			}
		}
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, http.StatusNotFound, "Not found")
}
