// Package version2 implements the v2 wire protocol (§4.F, §6.1-6.3): the
// same split x-bare-{host,port,protocol,path} remote as v1, plus
// x-bare-pass-headers/x-bare-pass-status/x-bare-forward-headers (all
// comma-separated, all optional with defaults), ?cache query support, and a
// meta-id-as-subprotocol WebSocket handshake.
package version2

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/tomphttp/bare-server-go/internal/bare"
	"github.com/tomphttp/bare-server-go/internal/envelope"
	"github.com/tomphttp/bare-server-go/internal/fetch"
	"github.com/tomphttp/bare-server-go/internal/meta"
	"github.com/tomphttp/bare-server-go/internal/server"
)

// Handler serves the v2 sub-paths.
type Handler struct {
	Fetcher   *fetch.Fetcher
	Records   *meta.Records
	LogErrors bool
}

// Mount registers h's three v2 sub-paths on s.
func Mount(s *server.Server, h *Handler) {
	s.Mount("v2/", server.HandlerFunc(h.ServeHTTP))
	s.Mount("v2/ws-new-meta", server.HandlerFunc(h.ServeWSNewMeta))
	s.Mount("v2/ws-meta", server.HandlerFunc(h.ServeWSMeta))
}

func isUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "Upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP dispatches to the WS handshake path or the plain HTTP tunnel.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	h.serveHTTPTunnel(w, r)
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

	forward := envelope.ParseCommaList(r.Header.Get("x-bare-forward-headers"))
	passHeaders := envelope.ParseCommaList(r.Header.Get("x-bare-pass-headers"))
	passStatus := parsePassStatus(r.Header.Get("x-bare-pass-status"))

	cache := isCacheMode(r)

	if cache {
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

const connectWaitTimeout = 12 * time.Second

// serveWebSocket implements the v2 WS handshake (§6.2): the
// Sec-WebSocket-Protocol value is the meta id a prior ws-new-meta call
// minted. The stored sendHeaders/remote drive the upstream upgrade; on
// success the remote's response headers are written back into the same
// meta record (for a later ws-meta poll) before the relay starts piping.
func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Sec-WebSocket-Protocol")
	if id == "" {
		bare.MissingHeader("Sec-WebSocket-Protocol").WriteJSON(w, h.LogErrors)
		return
	}

	rec, err := h.Records.Peek(r.Context(), id, 2)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	if rec.Remote == nil {
		bare.InvalidHeader("Sec-WebSocket-Protocol", "meta record has no remote").WriteJSON(w, h.LogErrors)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectWaitTimeout)
	defer cancel()

	outreq, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.Remote.HTTPURL().String(), nil)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	outreq.Header = make(http.Header, len(rec.SendHeaders))
	for name, vs := range rec.SendHeaders {
		outreq.Header[name] = vs
	}

	if host := envelope.PopHost(outreq.Header); host != "" {
		outreq.Host = host
	}

	outreq.Header.Set("Connection", "Upgrade")
	outreq.Header.Set("Upgrade", "websocket")

	result, err := h.Fetcher.Upgrade(ctx, outreq)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	conn, err := bare.Hijack(w)
	if err != nil {
		result.Conn.Close()
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	if err := writeHandshake101(conn, id, result.Header); err != nil {
		conn.Close()
		result.Conn.Close()

		return
	}

	rec.Response = &meta.ResponseInfo{
		Headers:    map[string][]string(result.Header),
		Status:     result.Code,
		StatusText: http.StatusText(result.Code),
	}

	_ = h.Records.Put(r.Context(), id, rec)

	_ = fetch.SpliceRaw(r.Context(), conn, result.Conn)
}

func writeHandshake101(conn net.Conn, id string, upstream http.Header) error {
	bw := bufio.NewWriter(conn)

	fmt.Fprintf(bw, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprintf(bw, "Upgrade: websocket\r\n")
	fmt.Fprintf(bw, "Connection: Upgrade\r\n")
	fmt.Fprintf(bw, "Sec-WebSocket-Protocol: %s\r\n", id)
	fmt.Fprintf(bw, "Sec-WebSocket-Accept: %s\r\n", upstream.Get("Sec-WebSocket-Accept"))

	if ext := upstream.Get("Sec-WebSocket-Extensions"); ext != "" {
		fmt.Fprintf(bw, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}

	fmt.Fprintf(bw, "\r\n")

	return bw.Flush()
}

// ServeWSNewMeta accepts a JSON body {remote, headers, forwardHeaders} and
// stores it as a fresh v2 meta record, returning its id as the response
// body (§6.2).
func (h *Handler) ServeWSNewMeta(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Remote         remoteJSON       `json:"remote"`
		Headers        bare.BareHeaders `json:"headers"`
		ForwardHeaders []string         `json:"forwardHeaders"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		bare.InvalidHeader("request.body", "malformed JSON").WriteJSON(w, h.LogErrors)
		return
	}

	forward := envelope.WithDefaults(body.ForwardHeaders, envelope.DefaultForwardWebSocket)

	sendHeaders, err := envelope.BuildSendHeaders(body.Headers, r, forward, true)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	id, err := h.Records.New(r.Context(), 2)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	remote := body.Remote.toRemote()

	rec := meta.Record{
		Version:        2,
		Remote:         &remote,
		SendHeaders:    map[string][]string(sendHeaders),
		ForwardHeaders: forward,
	}

	if err := h.Records.Put(r.Context(), id, rec); err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(id))
}

// ServeWSMeta consumes the meta record named by x-bare-id and returns its
// recorded response status/statusText/headers (§6.2).
func (h *Handler) ServeWSMeta(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("x-bare-id")
	if id == "" {
		bare.MissingHeader("x-bare-id").WriteJSON(w, h.LogErrors)
		return
	}

	rec, err := h.Records.Get(r.Context(), id, 2)
	if err != nil {
		bare.Wrap(err).WriteJSON(w, h.LogErrors)
		return
	}

	resp := map[string]interface{}{"headers": map[string][]string{}}

	if rec.Response != nil {
		resp["headers"] = rec.Response.Headers
		resp["status"] = rec.Response.Status
		resp["statusText"] = rec.Response.StatusText
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
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
