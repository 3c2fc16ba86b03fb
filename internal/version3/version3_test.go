package version3

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/tomphttp/bare-server-go/internal/fetch"
)

func TestServeHTTPTunnelMissingURLErrors(t *testing.T) {
	h := &Handler{Fetcher: fetch.NewFetcher(fetch.NoPolicy(), nil)}

	r := httptest.NewRequest(http.MethodGet, "/v3/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code == http.StatusOK {
		t.Error("expected an error for a missing x-bare-url header")
	}
}

func TestServeHTTPTunnelRoundTrip(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("v3-hello"))
	}))
	defer backend.Close()

	h := &Handler{Fetcher: fetch.NewFetcher(fetch.NoPolicy(), nil)}

	r := httptest.NewRequest(http.MethodGet, "/v3/", nil)
	r.Header.Set("x-bare-url", backend.URL+"/")
	r.Header.Set("x-bare-headers", "{}")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "v3-hello" {
		t.Errorf("body = %q, want v3-hello", w.Body.String())
	}
}

func TestServeHTTPTunnelRejectsForbiddenPassHeader(t *testing.T) {
	h := &Handler{Fetcher: fetch.NewFetcher(fetch.NoPolicy(), nil)}

	r := httptest.NewRequest(http.MethodGet, "/v3/", nil)
	r.Header.Set("x-bare-url", "http://example.com/")
	r.Header.Set("x-bare-headers", "{}")
	r.Header.Set("x-bare-pass-headers", "vary")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code == http.StatusOK {
		t.Error("expected an error for a forbidden x-bare-pass-headers entry")
	}
}

func TestServeWebSocketConnectHandshake(t *testing.T) {
	wsBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(msgType, data)
	}))
	defer wsBackend.Close()

	wsURL := "ws" + strings.TrimPrefix(wsBackend.URL, "http")

	h := &Handler{Fetcher: fetch.NewFetcher(fetch.NoPolicy(), nil)}

	front := httptest.NewServer(http.HandlerFunc(h.ServeHTTP))
	defer front.Close()

	frontWS := "ws" + strings.TrimPrefix(front.URL, "http") + "/v3/"

	conn, _, err := websocket.DefaultDialer.Dial(frontWS, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer conn.Close()

	connect := `{"type":"connect","remote":"` + wsURL + `","protocols":[],"headers":{},"forwardHeaders":[]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(connect)); err != nil {
		t.Fatal(err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read open message: %v", err)
	}
	if !strings.Contains(string(msg), `"type":"open"`) {
		t.Errorf("expected an open message, got %s", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping-through-tunnel")); err != nil {
		t.Fatal(err)
	}

	_, echoed, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed echo: %v", err)
	}
	if string(echoed) != "ping-through-tunnel" {
		t.Errorf("echoed = %q, want ping-through-tunnel", echoed)
	}
}
