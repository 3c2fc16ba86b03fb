package meta

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/tomphttp/bare-server-go/internal/bare"
)

// TTL is the lifetime of a meta record from creation, per §5.
const TTL = 30 * time.Second

// ReaperInterval is the sweep cadence, per §5.
const ReaperInterval = time.Second

const idBytes = 16

// ResponseInfo is the response-half of a Record's value, filled in by the
// WebSocket relay once the remote handshake completes.
type ResponseInfo struct {
	Headers    map[string][]string `json:"headers"`
	Status     int                 `json:"status,omitempty"`
	StatusText string              `json:"statusText,omitempty"`
}

// Record is the WebSocket side-channel payload (§3): version-tagged so
// ws-meta can refuse a version mismatch. v2's ws-new-meta stores it with
// Remote/SendHeaders/ForwardHeaders and the relay later adds Response; the
// v1 relay writes the record itself, Response included.
type Record struct {
	Version        int                 `json:"v"`
	Response       *ResponseInfo       `json:"response,omitempty"`
	Remote         *bare.Remote        `json:"remote,omitempty"`
	SendHeaders    map[string][]string `json:"sendHeaders,omitempty"`
	ForwardHeaders []string            `json:"forwardHeaders,omitempty"`
}

// NewID returns a fresh 16-byte, lowercase-hex meta id.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// Records is the JSON-adapter layer over a raw Store, encoding/decoding
// Record values and enforcing the create/mutate-once/consume-once lifecycle
// of §3/§4.E.
type Records struct {
	store Store
}

// NewRecords wraps store with the Record JSON adapter.
func NewRecords(store Store) *Records { return &Records{store: store} }

// New creates a fresh record tagged with version and stores it under a new
// id, returning the id.
func (r *Records) New(ctx context.Context, version int) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}

	rec := Record{Version: version}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	if err := r.store.Set(ctx, id, string(data), TTL); err != nil {
		return "", err
	}

	return id, nil
}

// Put overwrites the record at id (used by the relay once the remote
// handshake response is known), refreshing its TTL.
func (r *Records) Put(ctx context.Context, id string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return r.store.Set(ctx, id, string(data), TTL)
}

// Peek retrieves the record at id without deleting it, requiring version to
// match. Used by the v2 WebSocket handler to load the sendHeaders/remote a
// prior ws-new-meta call stored, leaving the record in place so the relay
// can still Put the response info into it afterward.
func (r *Records) Peek(ctx context.Context, id string, version int) (Record, error) {
	raw, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return Record{}, bare.Wrap(err)
	}
	if !ok {
		return Record{}, bare.InvalidHeader("x-bare-id", "no such meta record")
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, bare.InvalidHeader("x-bare-id", "corrupt meta record")
	}

	if rec.Version != version {
		return Record{}, bare.InvalidHeader("x-bare-id", "meta record version mismatch")
	}

	return rec, nil
}

// Get retrieves and deletes the record at id, requiring version to match.
// A missing record or version mismatch is reported as INVALID_BARE_HEADER
// per §4.E.
func (r *Records) Get(ctx context.Context, id string, version int) (Record, error) {
	raw, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return Record{}, bare.Wrap(err)
	}
	if !ok {
		return Record{}, bare.InvalidHeader("x-bare-id", "no such meta record")
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, bare.InvalidHeader("x-bare-id", "corrupt meta record")
	}

	if rec.Version != version {
		return Record{}, bare.InvalidHeader("x-bare-id", "meta record version mismatch")
	}

	if _, err := r.store.Delete(ctx, id); err != nil {
		return Record{}, bare.Wrap(err)
	}

	return rec, nil
}

// Reaper periodically sweeps records past their TTL. Most Store
// implementations already expire entries natively (ristretto's SetWithTTL,
// Redis's EX); the reaper exists for backends — and for the in-memory
// key-set mirror — where a belt-and-braces sweep keeps Keys() accurate.
type Reaper struct {
	store  Store
	ticker *time.Ticker
	stop   chan struct{}
	logger *log.Logger
}

// NewReaper starts a reaper sweeping store every ReaperInterval.
func NewReaper(store Store, logger *log.Logger) *Reaper {
	r := &Reaper{
		store:  store,
		ticker: time.NewTicker(ReaperInterval),
		stop:   make(chan struct{}),
		logger: logger,
	}

	go r.run()

	return r
}

func (r *Reaper) run() {
	for {
		select {
		case <-r.ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) sweep() {
	ctx := context.Background()

	keys, err := r.store.Keys(ctx)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("meta reaper: failed to list keys: %v", err)
		}

		return
	}

	for _, k := range keys {
		has, err := r.store.Has(ctx, k)
		if err != nil || has {
			continue
		}

		if _, err := r.store.Delete(ctx, k); err != nil && r.logger != nil {
			r.logger.Printf("meta reaper: failed to delete key %q: %v", k, err)
		}
	}
}

// Close stops the reaper goroutine.
func (r *Reaper) Close() {
	r.ticker.Stop()
	close(r.stop)
}
