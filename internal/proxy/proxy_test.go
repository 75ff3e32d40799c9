package proxy_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/porter/internal/proxy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newBackend serves a plain HTTP echo on every path and a WebSocket echo
// on /ws.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				mt, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(mt, append([]byte("echo:"), msg...)); err != nil {
					return
				}
			}
		}

		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Backend-Path", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(r.Method + " " + r.URL.RequestURI() + " " + string(body)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, backendURL string) *httptest.Server {
	t.Helper()
	u, err := url.Parse(backendURL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	srv := httptest.NewServer(proxy.New(u.Host, testLogger()))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPPassthrough(t *testing.T) {
	backend := newBackend(t)
	px := newProxy(t, backend.URL)

	resp, err := http.Post(px.URL+"/api/send?chat=42", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("POST through proxy: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	want := "POST /api/send?chat=42 hello"
	if string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if got := resp.Header.Get("X-Backend-Path"); got != "/api/send" {
		t.Errorf("X-Backend-Path = %q, want %q", got, "/api/send")
	}
}

func TestHTTPUpstreamDown(t *testing.T) {
	px := newProxy(t, "http://127.0.0.1:1")

	resp, err := http.Get(px.URL + "/anything")
	if err != nil {
		t.Fatalf("GET through proxy: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestWebSocketRelay(t *testing.T) {
	backend := newBackend(t)
	px := newProxy(t, backend.URL)

	wsURL := "ws" + strings.TrimPrefix(px.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial proxy websocket: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{"first", "second", "third"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write %q: %v", msg, err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, reply, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read reply to %q: %v", msg, err)
		}
		if string(reply) != "echo:"+msg {
			t.Errorf("reply = %q, want %q", reply, "echo:"+msg)
		}
	}
}

func TestWebSocketUpstreamDown(t *testing.T) {
	px := newProxy(t, "http://127.0.0.1:1")

	wsURL := "ws" + strings.TrimPrefix(px.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded with no upstream")
	}
	if resp != nil && resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}
