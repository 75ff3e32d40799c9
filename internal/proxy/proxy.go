// Package proxy forwards HTTP and WebSocket traffic to the gateway process
// inside the sandbox. It is a dumb pipe: no retries, no buffering beyond
// what streaming requires, no rewriting of bodies.
package proxy

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Handler reverse-proxies requests to a single gateway address.
type Handler struct {
	target   *url.URL
	reverse  *httputil.ReverseProxy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a proxy targeting host, an addressable host:port.
func New(host string, logger *slog.Logger) *Handler {
	target := &url.URL{Scheme: "http", Host: host}
	reverse := httputil.NewSingleHostReverseProxy(target)
	// Flush response bytes as they arrive so server-sent events and long
	// polls stream through instead of buffering.
	reverse.FlushInterval = -1
	reverse.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy upstream error", "path", r.URL.Path, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"gateway unreachable"}`))
	}

	return &Handler{
		target:  target,
		reverse: reverse,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway does its own origin validation; the proxy
			// must not second-guess it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP forwards the request, relaying WebSocket upgrades frame by frame
// and passing everything else through the reverse proxy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}
	h.reverse.ServeHTTP(w, r)
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	backendURL := url.URL{
		Scheme:   "ws",
		Host:     h.target.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	backend, resp, err := websocket.DefaultDialer.DialContext(r.Context(), backendURL.String(), relayHeader(r.Header))
	if err != nil {
		h.logger.Warn("dial gateway websocket", "path", r.URL.Path, "error", err)
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "gateway unreachable", status)
		return
	}
	defer backend.Close()

	client, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("upgrade client websocket", "path", r.URL.Path, "error", err)
		return
	}
	defer client.Close()

	errc := make(chan error, 2)
	go relay(backend, client, errc)
	go relay(client, backend, errc)

	// First closure in either direction tears down both; deferred Closes
	// unblock the surviving relay goroutine.
	<-errc
}

// relay copies messages from src to dst until either side closes.
func relay(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}

// relayHeader copies client headers to the backend dial, minus the hop-by-hop
// and upgrade headers the dialer manages itself.
func relayHeader(in http.Header) http.Header {
	out := make(http.Header)
	for key, values := range in {
		switch {
		case strings.EqualFold(key, "Upgrade"),
			strings.EqualFold(key, "Connection"),
			strings.HasPrefix(strings.ToLower(key), "sec-websocket-"):
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}
