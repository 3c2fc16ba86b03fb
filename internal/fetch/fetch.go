package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/sync/errgroup"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// hopHeaders lists the hop-by-hop headers stripped from both the outbound
// request and the inbound response, carried over from the teacher's
// proxy.hopHeaders (RFC 7230 §6.1 plus the RFC 2616 §13.5.1 backward
// compatibility set).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeConnectionHeaders deletes hop-by-hop headers named in h's Connection
// field, per RFC 7230 §6.1. Adapted from the teacher's
// proxy.removeConnectionHeaders.
func removeConnectionHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
}

// upgradeType returns the lowercased Upgrade token of h if Connection
// contains "Upgrade", else "". Adapted from the teacher's proxy.upgradeType.
func upgradeType(h http.Header) string {
	if !httpguts.HeaderValuesContainsToken(h["Connection"], "Upgrade") {
		return ""
	}

	return strings.ToLower(h.Get("Upgrade"))
}

func stripHopHeaders(h http.Header) {
	removeConnectionHeaders(h)

	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// Fetcher performs the outbound half of the tunnel: plain HTTP(S) fetch for
// v1/v2/v3 non-WS requests, and upgrade fetch for v1/v2 WebSocket tunnels
// (§4.D). It owns the shared transport and its SSRF policy.
type Fetcher struct {
	transport *http.Transport
	policy    SSRFPolicy
	wsDialer  *websocket.Dialer
	closeFn   func()
}

// NewFetcher builds a Fetcher with a fresh transport gated by policy. The
// v3 WebSocket client dialer shares the same policy-gated DialContext as
// the transport, so a hostname remote can't bypass the SSRF Lookup gate by
// going through DialWebSocket instead of Do/Upgrade.
func NewFetcher(policy SSRFPolicy, tlsConfig *tls.Config) *Fetcher {
	t, closeFn := NewTransport(policy, tlsConfig)

	wsDialer := &websocket.Dialer{
		HandshakeTimeout: DefaultDialTimeout,
		NetDialContext:   gatedDialContext(policy),
		TLSClientConfig:  tlsConfig,
	}

	return &Fetcher{transport: t, policy: policy, wsDialer: wsDialer, closeFn: closeFn}
}

// Close tears down the underlying transport's connection pool (§5).
func (f *Fetcher) Close() { f.closeFn() }

// Do issues a plain HTTP(S) request to remote, stripping hop-by-hop headers
// on the way out and on the way back, and mapping transport failures to
// tagged bare.Error values (§4.D, §7).
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	if err := f.checkHost(req.URL.Hostname()); err != nil {
		return nil, err
	}

	stripHopHeaders(req.Header)

	res, err := f.transport.RoundTrip(req)
	if err != nil {
		return nil, bare.TransportError(err)
	}

	stripHopHeaders(res.Header)

	return res, nil
}

// checkHost runs the SSRF literal-IP gate against host directly; hostname
// resolution is gated inside the transport's DialContext via policy.Lookup.
func (f *Fetcher) checkHost(host string) error {
	if err := f.policy.Check(host); err != nil {
		return bare.New(http.StatusForbidden, bare.KindForbiddenHeader, "request.url", "remote address forbidden")
	}

	return nil
}

// UpgradeResult is the outcome of a successful protocol upgrade: the raw
// backend connection plus the 101 response headers the caller should relay
// back to the client before splicing.
type UpgradeResult struct {
	Conn    net.Conn
	Header  http.Header
	Status  string
	Code    int
}

// Upgrade issues req expecting a 101 Switching Protocols response (v1/v2 WS
// tunnels, §6.1/§6.2), hijacking the backend connection out of the
// transport's response body so the caller can splice it against the
// client connection. Adapted from the teacher's
// proxy.handleUpgradeResponse, split so the hijack-and-splice of the
// client side stays with the caller (which owns the client's
// http.Hijacker).
func (f *Fetcher) Upgrade(ctx context.Context, req *http.Request) (*UpgradeResult, error) {
	if err := f.checkHost(req.URL.Hostname()); err != nil {
		return nil, err
	}

	reqUpType := upgradeType(req.Header)

	stripHopHeaders(req.Header)

	if reqUpType != "" {
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", reqUpType)
	}

	res, err := f.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, bare.TransportError(err)
	}

	if res.StatusCode != http.StatusSwitchingProtocols {
		defer res.Body.Close()
		return nil, bare.New(http.StatusBadGateway, bare.KindUpgradeUnexpected, "response", fmt.Sprintf("remote responded %d to an upgrade request", res.StatusCode))
	}

	resUpType := upgradeType(res.Header)
	if reqUpType != resUpType {
		defer res.Body.Close()
		return nil, bare.New(http.StatusBadGateway, bare.KindUpgradeUnexpected, "response", fmt.Sprintf("remote switched protocol %q when %q was requested", resUpType, reqUpType))
	}

	backConn, ok := res.Body.(io.ReadWriteCloser)
	if !ok {
		return nil, bare.New(http.StatusBadGateway, bare.KindUnknown, "response", "switching protocols response with non-writable body")
	}

	conn, ok := backConn.(net.Conn)
	if !ok {
		return &UpgradeResult{Conn: rwcConn{backConn}, Header: res.Header, Status: res.Status, Code: res.StatusCode}, nil
	}

	return &UpgradeResult{Conn: conn, Header: res.Header, Status: res.Status, Code: res.StatusCode}, nil
}

// rwcConn adapts an io.ReadWriteCloser lacking net.Conn's deadline/address
// methods (as returned by http.Transport for a hijacked 101 response body)
// into a net.Conn usable by the WebSocket splice loop.
type rwcConn struct {
	io.ReadWriteCloser
}

func (rwcConn) LocalAddr() net.Addr               { return nil }
func (rwcConn) RemoteAddr() net.Addr              { return nil }
func (rwcConn) SetDeadline(t time.Time) error      { return nil }
func (rwcConn) SetReadDeadline(t time.Time) error  { return nil }
func (rwcConn) SetWriteDeadline(t time.Time) error { return nil }

// SpliceRaw copies bytes bidirectionally between client and backend until
// either side closes or errors, or ctx is canceled. Used by the v1/v2 WS
// tunnel handlers after they've hand-written the 101 response to the
// hijacked client connection themselves (so framing is already WebSocket,
// not HTTP, by the time this runs). Mirrors the teacher's
// proxy.switchProtocolCopier, restructured around errgroup as websocket.go's
// Relay is.
func SpliceRaw(ctx context.Context, client, backend net.Conn) error {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := io.Copy(backend, client)
		_ = backend.Close()
		_ = client.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(client, backend)
		_ = client.Close()
		_ = backend.Close()
		return err
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		_ = client.Close()
		_ = backend.Close()
		return ctx.Err()
	case err := <-done:
		_ = client.Close()
		_ = backend.Close()
		return err
	}
}
