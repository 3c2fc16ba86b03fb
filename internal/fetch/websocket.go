package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// DialWebSocket connects to remote as a WebSocket client, forwarding header
// (already filtered to the send/forward-header policy of the caller's
// protocol version) as the handshake request headers. Grounded on the
// dvonthenen/websocketproxy half-duplex proxy's backend dial step, adapted
// to gorilla/websocket and the bare Remote addressing model.
func (f *Fetcher) DialWebSocket(ctx context.Context, remote bare.Remote, header http.Header) (*websocket.Conn, *http.Response, error) {
	if err := f.checkHost(remote.Host); err != nil {
		return nil, nil, err
	}

	u := remote.ToURL()

	conn, res, err := f.wsDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if res != nil {
			return nil, res, bare.New(res.StatusCode, bare.KindUpgradeUnexpected, "response", "remote refused websocket handshake")
		}

		return nil, nil, bare.TransportError(err)
	}

	return conn, res, nil
}

// Relay splices client and backend full-duplex until either side closes or
// errors, returning the first error encountered. Grounded on the
// dvonthenen/websocketproxy half-duplex proxy's replicate goroutines,
// restructured around golang.org/x/sync/errgroup (as the teacher uses for
// its own concurrent fan-out in authentication/factory.go) instead of raw
// channels.
func Relay(ctx context.Context, client, backend *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return copyMessages(backend, client) })
	g.Go(func() error { return copyMessages(client, backend) })

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-gctx.Done():
		_ = client.Close()
		_ = backend.Close()
		if err := ctx.Err(); err != nil {
			return err
		}
		return <-done
	case err := <-done:
		return err
	}
}

// copyMessages reads messages from src and writes them to dst until src
// closes or errors, forwarding a close frame to dst on the way out.
func copyMessages(dst, src *websocket.Conn) error {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			closeCode := websocket.CloseNormalClosure
			closeText := err.Error()

			if ce, ok := err.(*websocket.CloseError); ok {
				closeCode = ce.Code
				closeText = ce.Text
			}

			_ = dst.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(closeCode, closeText),
				time.Now().Add(time.Second),
			)

			return err
		}

		if err := dst.WriteMessage(msgType, msg); err != nil {
			return err
		}
	}
}
