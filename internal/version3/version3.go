// Package version3 implements the v3 wire protocol (§4.F, §6.2 onward,
// §6.5): the remote tuple collapses to a single x-bare-url header for the
// HTTP tunnel, and the WebSocket tunnel upgrades immediately, carrying its
// connect request as the first client-sent text frame instead of a
// subprotocol or meta-store round trip.
package version3

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/envelope"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/server"
)

// Handler serves the single v3 sub-path.
type Handler struct {
	Fetcher   *fetch.Fetcher
	LogErrors bool
}

// Mount registers h's v3 sub-path on s.
func Mount(s *server.Server, h *Handler) {
	s.Mount("v3/", server.HandlerFunc(h.ServeHTTP))
}

// upgrader accepts every client WS handshake unconditionally: origin
// checking is moot once the CORS layer already allows any origin, and the
// real gate is the connect-message remote, checked by Fetcher.checkHost via
// DialWebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP dispatches to the WS handshake path or the plain HTTP tunnel.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	h.serveHTTPTunnel(w, r)
}

func (h *Handler) serveHTTPTunnel(w http.ResponseWriter, r *http.Request) {
	rawURL := r.Header.Get("x-bare-url")
	if rawURL == "" {
		bare.MissingHeader("x-bare-url").WriteJSON(w, h.LogErrors)
		return
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		bare.InvalidHeader("x-bare-url", "malformed URL").WriteJSON(w, h.LogErrors)
		return
	}

	remote, err := bare.RemoteFromURL(u)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	rawHeaders := r.Header.Get("x-bare-headers")
	if rawHeaders == "" {
		bare.MissingHeader("x-bare-headers").WriteJSON(w, h.LogErrors)
		return
	}

	bh, err := bare.ParseBareHeaders([]byte(rawHeaders))
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	forward := envelope.ParseCommaList(r.Header.Get("x-bare-forward-headers"))
	passHeaders := envelope.ParseCommaList(r.Header.Get("x-bare-pass-headers"))
	passStatus := parsePassStatus(r.Header.Get("x-bare-pass-status"))

	if isCacheMode(r) {
		forward = append(forward, envelope.CacheForward...)
		passHeaders = append(passHeaders, envelope.CachePass...)
		passStatus[http.StatusNotModified] = true
	}

	if err := envelope.CheckPassHeaders(passHeaders); err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	forward = envelope.WithDefaults(forward, envelope.DefaultForward)
	passHeaders = envelope.WithDefaults(passHeaders, envelope.DefaultPass)

	sendHeaders, err := envelope.BuildSendHeaders(bh, r, forward, true)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	host := envelope.PopHost(sendHeaders)

	outreq, err := http.NewRequestWithContext(r.Context(), r.Method, remote.ToURL().String(), r.Body)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	outreq.Header = sendHeaders
	if host != "" {
		outreq.Host = host
	}

	res, err := h.Fetcher.Do(outreq)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}
	defer res.Body.Close()

	_ = envelope.EncodeResponse(w, res, passHeaders, passStatus)
}

func isCacheMode(r *http.Request) bool {
	_, ok := r.URL.Query()["cache"]
	return ok
}

func parsePassStatus(v string) map[int]bool {
	out := make(map[int]bool)

	for _, tok := range envelope.ParseCommaList(v) {
		if n, err := strconv.Atoi(tok); err == nil {
			out[n] = true
		}
	}

	return out
}

// connectWaitTimeout bounds how long the server waits for the client's
// first text frame after upgrading, per §5's "client-to-server WS meta
// handshake (v3) 10 s" budget.
const connectWaitTimeout = 10 * time.Second

// connectMessage is the JSON the client sends as its first WS text frame.
type connectMessage struct {
	Type           string           `json:"type"`
	Remote         string           `json:"remote"`
	Protocols      []string         `json:"protocols"`
	Headers        bare.BareHeaders `json:"headers"`
	ForwardHeaders []string         `json:"forwardHeaders"`
}

// openMessage is sent back to the client once the upstream handshake
// succeeds.
type openMessage struct {
	Type       string   `json:"type"`
	Protocol   string   `json:"protocol"`
	SetCookies []string `json:"setCookies"`
}

// serveWebSocket implements the v3 WS handshake (§6.2/§6.5): upgrade first,
// then wait for the client's connect frame before ever dialing upstream —
// the reverse of v1/v2, which need the remote up front to perform the
// upgrade before the 101 can even be written.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer client.Close()

	_ = client.SetReadDeadline(time.Now().Add(connectWaitTimeout))

	msgType, data, err := client.ReadMessage()
	if err != nil {
		_ = client.Close()
		return
	}

	if msgType != websocket.TextMessage {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "expected a text connect frame"),
			time.Now().Add(time.Second))

		return
	}

	var msg connectMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "connect" {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed connect message"),
			time.Now().Add(time.Second))

		return
	}

	_ = client.SetReadDeadline(time.Time{})

	u, err := url.Parse(msg.Remote)
	if err != nil {
		closeWithReason(client, "invalid remote")
		return
	}

	remote, err := bare.RemoteFromURL(u)
	if err != nil {
		closeWithReason(client, "invalid remote")
		return
	}

	forward := envelope.WithDefaults(msg.ForwardHeaders, envelope.DefaultForward)

	sendHeaders, err := envelope.BuildSendHeaders(msg.Headers, r, forward, true)
	if err != nil {
		closeWithReason(client, "forbidden header")
		return
	}

	// Re-set under the canonical "Host" key so gorilla's dialer recognizes
	// it as the Host override instead of forwarding it as a plain header.
	if host := envelope.PopHost(sendHeaders); host != "" {
		sendHeaders.Set("Host", host)
	}

	if len(msg.Protocols) > 0 {
		sendHeaders.Del("Sec-WebSocket-Protocol")
		for _, p := range msg.Protocols {
			sendHeaders.Add("Sec-WebSocket-Protocol", p)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectWaitTimeout)
	defer cancel()

	backend, res, err := h.Fetcher.DialWebSocket(ctx, remote, sendHeaders)
	if err != nil {
		closeWithReason(client, "upstream handshake failed")
		return
	}
	defer backend.Close()

	open := openMessage{
		Type:       "open",
		Protocol:   res.Header.Get("Sec-WebSocket-Protocol"),
		SetCookies: append([]string(nil), res.Header["Set-Cookie"]...),
	}

	if open.SetCookies == nil {
		open.SetCookies = []string{}
	}

	payload, err := json.Marshal(open)
	if err != nil {
		return
	}

	if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
		return
	}

	_ = fetch.Relay(r.Context(), client, backend)
}

func closeWithReason(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseUnsupportedData, reason),
		time.Now().Add(time.Second))
}
