// chatguard/pkg/runtime/dashboard.go

package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rgehrsitz/chatguard/pkg/logging"
)

// Dashboard serves registry stats and streams decisions over a websocket.
type Dashboard struct {
	registry       *Registry
	port           int
	clients        map[*websocket.Conn]bool
	clientsMutex   sync.Mutex
	updateInterval time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is one websocket message.
type frame struct {
	Type     string    `json:"type"`
	Stats    *Stats    `json:"stats,omitempty"`
	Decision *Decision `json:"decision,omitempty"`
}

// NewDashboard registers the dashboard as an observer of registry.
func NewDashboard(registry *Registry, port int, updateInterval time.Duration) *Dashboard {
	d := &Dashboard{
		registry:       registry,
		port:           port,
		clients:        make(map[*websocket.Conn]bool),
		updateInterval: updateInterval,
	}
	registry.AddObserver(d)
	return d
}

func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/api/stats", d.handleStats)
	mux.HandleFunc("/events", d.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is cancelled.
func (d *Dashboard) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.port),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go d.broadcastUpdates(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logging.Logger.Info().Int("port", d.port).Msg("Dashboard starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Logger.Error().Err(err).Msg("Dashboard error")
		return err
	}
	return nil
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.registry.Stats()); err != nil {
		logging.Logger.Error().Err(err).Msg("Error encoding stats")
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("Error upgrading to websocket")
		return
	}
	defer conn.Close()

	logging.Logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Dashboard client connected")
	d.clientsMutex.Lock()
	d.clients[conn] = true
	d.clientsMutex.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	d.clientsMutex.Lock()
	delete(d.clients, conn)
	d.clientsMutex.Unlock()
	logging.Logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Dashboard client disconnected")
}

// Observe streams a finished decision to every client.
func (d *Dashboard) Observe(decision Decision) {
	d.send(frame{Type: "decision", Decision: &decision})
}

func (d *Dashboard) broadcastUpdates(ctx context.Context) {
	ticker := time.NewTicker(d.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := d.registry.Stats()
			d.send(frame{Type: "stats", Stats: &stats})
		}
	}
}

func (d *Dashboard) send(f frame) {
	message, err := json.Marshal(f)
	if err != nil {
		logging.Logger.Error().Err(err).Str("type", f.Type).Msg("Error marshaling dashboard frame")
		return
	}

	d.clientsMutex.Lock()
	defer d.clientsMutex.Unlock()
	for client := range d.clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Logger.Debug().Err(err).Msg("Dropping dashboard client")
			client.Close()
			delete(d.clients, client)
		}
	}
}
