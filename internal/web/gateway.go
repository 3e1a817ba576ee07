// Package web implements the presentation gateway: an HTTP server that
// upgrades browser connections to WebSocket, relays event bus publications
// outward, and republishes inbound client text as user queries. The gateway
// is strictly an edge component; it never calls the scanner, rule engine, or
// model client, and a gateway failure leaves the watcher running without a
// UI.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/roasbeef/driftwatch/internal/bus"
)

const (
	// maxPortAttempts is how many sequential ports are tried, starting
	// at the configured one, before startup is declared failed.
	maxPortAttempts = 10

	// bindHost restricts the UI to loopback; client connections carry no
	// authentication.
	bindHost = "127.0.0.1"
)

// ErrNoPortAvailable is returned by Listen when the configured port and the
// nine ports above it are all occupied.
var ErrNoPortAvailable = errors.New("no gateway port available")

// Config holds the gateway's collaborators and knobs.
type Config struct {
	// Bus is the event bus shared with the watcher.
	Bus *bus.Bus

	// Root is the absolute path of the watched working tree, announced
	// to every new connection.
	Root string

	// Port is the preferred listen port.
	Port int
}

// Gateway accepts client connections and bridges them to the bus.
type Gateway struct {
	cfg Config

	ln   net.Listener
	srv  *http.Server
	port int
}

// NewGateway creates a gateway; call Listen before Serve.
func NewGateway(cfg Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// Listen binds the configured port, retrying sequentially on up to nine
// higher port numbers, and returns the port actually bound. When all
// attempts fail the gateway is unusable, but the caller is expected to keep
// the rest of the watcher running.
func (g *Gateway) Listen() (int, error) {
	for i := 0; i < maxPortAttempts; i++ {
		port := g.cfg.Port + i

		addr := fmt.Sprintf("%s:%d", bindHost, port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			log.Infof("Port %d is in use, trying the next one",
				port)
			continue
		}

		if port != g.cfg.Port {
			log.Infof("Configured port %d was occupied, bound %d "+
				"instead", g.cfg.Port, port)
		}

		g.ln = ln
		g.port = port

		return port, nil
	}

	return 0, fmt.Errorf("%w: tried %d-%d", ErrNoPortAvailable,
		g.cfg.Port, g.cfg.Port+maxPortAttempts-1)
}

// Port returns the bound port. Only meaningful after Listen succeeds.
func (g *Gateway) Port() int {
	return g.port
}

// Addr returns the UI's base URL. Only meaningful after Listen succeeds.
func (g *Gateway) Addr() string {
	return fmt.Sprintf("http://%s:%d", bindHost, g.port)
}

// Serve runs the HTTP server on the bound listener until Shutdown. It
// always returns a non-nil error; http.ErrServerClosed after a clean
// shutdown.
func (g *Gateway) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebSocket)

	uiHandler, err := UIHandler()
	if err != nil {
		// Release the bound port; nothing will serve on it.
		g.ln.Close()
		return fmt.Errorf("failed to create UI handler: %w", err)
	}
	mux.Handle("/", uiHandler)

	g.srv = &http.Server{
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.Infof("Gateway serving on %s", g.Addr())

	return g.srv.Serve(g.ln)
}

// Shutdown stops the server, closing all client connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.srv == nil {
		if g.ln != nil {
			return g.ln.Close()
		}
		return nil
	}

	// Shutdown only waits for idle HTTP connections. Hijacked WebSocket
	// connections are not tracked by the server at all; they end when
	// the bus closes their subscriptions during daemon teardown.
	g.srv.SetKeepAlivesEnabled(false)
	if err := g.srv.Shutdown(ctx); err != nil {
		return g.srv.Close()
	}

	return nil
}
