// Package version1 implements the v1 wire protocol (§4.F, §6.1, §6.2): HTTP
// tunnel over x-bare-{host,port,protocol,path} headers, and the
// Sec-WebSocket-Protocol "bare, <percent-encoded JSON>" WS handshake.
package version1

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/envelope"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/server"
)

// connectPayload is the JSON carried percent-encoded inside
// Sec-WebSocket-Protocol: "bare, <connectPayload>".
type connectPayload struct {
	Remote         remoteJSON       `json:"remote"`
	Headers        bare.BareHeaders `json:"headers"`
	ForwardHeaders []string         `json:"forward_headers"`
	ID             string           `json:"id"`
}

type remoteJSON struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Path     string `json:"path"`
}

func (r remoteJSON) toRemote() bare.Remote {
	return bare.Remote{Host: r.Host, Port: r.Port, Protocol: r.Protocol, Path: r.Path}
}

// Handler serves the v1 sub-paths. Strict resolves Open Question (i): when
// false (the default, matching the permissive historical v1 client base),
// forwardHeaders is never checked against envelope.ForbiddenForward; set it
// true to harden v1 to v2's enforcement.
type Handler struct {
	Fetcher   *fetch.Fetcher
	Records   *meta.Records
	Strict    bool
	LogErrors bool
}

// Mount registers h's three v1 sub-paths on s.
func Mount(s *server.Server, h *Handler) {
	s.Mount("v1/", server.HandlerFunc(h.ServeHTTP))
	s.Mount("v1/ws-new-meta", server.HandlerFunc(h.ServeWSNewMeta))
	s.Mount("v1/ws-meta", server.HandlerFunc(h.ServeWSMeta))
}

// ServeHTTP dispatches to the WS handshake path or the plain HTTP tunnel
// depending on whether the request asks for a protocol upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	h.serveHTTPTunnel(w, r)
}

func isUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "Upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (h *Handler) serveHTTPTunnel(w http.ResponseWriter, r *http.Request) {
	remote, err := bare.RemoteFromHeaders(r.Header)
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

	rawForward := r.Header.Get("x-bare-forward-headers")
	if rawForward == "" {
		bare.MissingHeader("x-bare-forward-headers").WriteJSON(w, h.LogErrors)
		return
	}

	var forward []string
	if err := json.Unmarshal([]byte(rawForward), &forward); err != nil {
		bare.InvalidHeader("x-bare-forward-headers", err.Error()).WriteJSON(w, h.LogErrors)
		return
	}

	forward = envelope.WithDefaults(forward, envelope.DefaultForwardWebSocket)

	sendHeaders, err := envelope.BuildSendHeaders(bh, r, forward, h.Strict)
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

	if err := envelope.EncodeResponse(w, res, envelope.DefaultPass, nil); err != nil && h.LogErrors {
		_ = err // best-effort: headers are already on the wire by this point
	}
}

const connectWaitTimeout = 12 * time.Second

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	protoHeader := r.Header.Get("Sec-WebSocket-Protocol")

	tok, payload, err := parseBareProtocol(protoHeader)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	if tok != "bare" {
		bare.InvalidHeader("Sec-WebSocket-Protocol", "expected \"bare\" token").WriteJSON(w, h.LogErrors)
		return
	}

	forward := envelope.WithDefaults(payload.ForwardHeaders, envelope.DefaultForwardWebSocket)

	sendHeaders, err := envelope.BuildSendHeaders(payload.Headers, r, forward, h.Strict)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	remote := payload.Remote.toRemote()

	host := envelope.PopHost(sendHeaders)

	ctx, cancel := context.WithTimeout(r.Context(), connectWaitTimeout)
	defer cancel()

	outreq, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.HTTPURL().String(), nil)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	outreq.Header = sendHeaders
	outreq.Header.Set("Connection", "Upgrade")
	outreq.Header.Set("Upgrade", "websocket")
	if host != "" {
		outreq.Host = host
	}

	result, err := h.Fetcher.Upgrade(ctx, outreq)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	if payload.ID != "" {
		rec := meta.Record{
			Version: 1,
			Response: &meta.ResponseInfo{
				Headers:    map[string][]string(result.Header),
				Status:     result.Code,
				StatusText: http.StatusText(result.Code),
			},
		}

		_ = h.Records.Put(r.Context(), payload.ID, rec)
	}

	conn, err := bare.Hijack(w)
	if err != nil {
		result.Conn.Close()
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	bw := bufio.NewWriter(conn)

	fmt.Fprintf(bw, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprintf(bw, "Upgrade: websocket\r\n")
	fmt.Fprintf(bw, "Connection: Upgrade\r\n")
	fmt.Fprintf(bw, "Sec-WebSocket-Protocol: bare\r\n")
	fmt.Fprintf(bw, "Sec-WebSocket-Accept: %s\r\n", result.Header.Get("Sec-WebSocket-Accept"))

	if ext := result.Header.Get("Sec-WebSocket-Extensions"); ext != "" {
		fmt.Fprintf(bw, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}

	fmt.Fprintf(bw, "\r\n")

	if err := bw.Flush(); err != nil {
		conn.Close()
		result.Conn.Close()

		return
	}

	_ = fetch.SpliceRaw(r.Context(), conn, result.Conn)
}

// parseBareProtocol splits "bare, <percent-encoded JSON>" into its token and
// decoded connectPayload.
func parseBareProtocol(header string) (string, connectPayload, error) {
	var payload connectPayload

	parts := splitProtocol(header)
	if len(parts) != 2 {
		return "", payload, bare.InvalidHeader("Sec-WebSocket-Protocol", "expected \"bare, <payload>\"")
	}

	decoded := bare.DecodeProtocol(parts[1])

	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return "", payload, bare.InvalidHeader("Sec-WebSocket-Protocol", "malformed connect payload")
	}

	return parts[0], payload, nil
}

func splitProtocol(header string) []string {
	out := make([]string, 0, 2)

	start := 0
	for i := 0; i < len(header); i++ {
		if header[i] == ',' {
			out = append(out, trimSpace(header[start:i]))
			start = i + 1
		}
	}

	out = append(out, trimSpace(header[start:]))

	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}

	return s[start:end]
}

// ServeWSNewMeta creates a fresh v1 meta record and returns its id as the
// response body (§6.1).
func (h *Handler) ServeWSNewMeta(w http.ResponseWriter, r *http.Request) {
	id, err := h.Records.New(r.Context(), 1)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(id))
}

// ServeWSMeta consumes the meta record named by x-bare-id and returns its
// recorded response headers (§6.1).
func (h *Handler) ServeWSMeta(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("x-bare-id")
	if id == "" {
		bare.MissingHeader("x-bare-id").WriteJSON(w, h.LogErrors)
		return
	}

	rec, err := h.Records.Get(r.Context(), id, 1)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	headers := map[string][]string{}
	if rec.Response != nil {
		headers = rec.Response.Headers
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"headers": headers})
}
