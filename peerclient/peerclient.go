// Package peerclient implements C3: the HTTP client the sync supervisor
// uses to poll other nodes, with bounded connect/read timeouts and a
// bounded-retry helper. Grounded on original_source/src/utils.rs's
// `async_try_many!` macro (retry-N-times-or-fail) and spec.md §4.3's exact
// contract, since original_source's own peer-fetch call sites
// (tasks/sync.rs) are stubs in the prototype.
package peerclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/uqoin-network/uqoin-node/internal/errs"
	internallog "github.com/uqoin-network/uqoin-node/internal/log"
)

// maxPeerResponseSize caps how much of a single peer's response body is
// read before giving up, so a misbehaving or malicious peer can't stall the
// sync supervisor with an unbounded stream.
const maxPeerResponseSize = 1 << 20 // 1 MiB

var logger = internallog.NewModuleLogger(internallog.Peer)

// DefaultTimeout is the connect+read deadline for a single peer request
// (spec.md §4.3: "configurable connect/read timeout, default 5s").
const DefaultTimeout = 5 * time.Second

// DefaultRetryCount is how many times try_many re-issues a sync-critical
// call before giving up (spec.md §4.3: "default 10 for sync-critical
// calls").
const DefaultRetryCount = 10

// cacheCapacity bounds the GET response cache, which holds responses to
// bix-pinned queries (see RequestNode) until LRU eviction, so repeated
// per-bix lookups against the same peer are not reissued.
const cacheCapacity = 256

// Client issues GET requests against peer node HTTP APIs (spec.md §6).
type Client struct {
	httpClient *http.Client
	cache      *lru.Cache
}

// New creates a Client with the given per-request timeout. A zero timeout
// selects DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache, _ := lru.New(cacheCapacity)
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}
}

type cacheEntry struct {
	body []byte
}

// RequestNode performs a GET against peerBaseURL+path with query encoded as
// URL parameters, decoding the JSON response body into out. Grounded on
// spec.md §4.3: "request_node(peer, path, optional_query) -> T... JSON body
// decoding". A transient network/decode failure is wrapped as
// errs.TransientPeer so the sync supervisor and try_many can distinguish it
// from a permanent/logical failure.
func (c *Client) RequestNode(ctx context.Context, peerBaseURL, path string, query url.Values, out interface{}) error {
	u := peerBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	// Only a query pinned to an explicit bix addresses an immutable,
	// historical lookup and is safe to cache indefinitely. A bare HEAD
	// request (no bix) is mutable — the peer's current head changes over
	// time — and must always hit the network, or the sync loop freezes on
	// the first-ever polled head forever (spec.md §4.4 step 3).
	cacheable := query.Get("bix") != ""

	if cacheable {
		if cached, ok := c.cache.Get(u); ok {
			return json.Unmarshal(cached.(cacheEntry).body, out)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errs.TransientPeer(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.TransientPeer(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.TransientPeer(errors.Errorf("peer %s returned status %d", u, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPeerResponseSize))
	if err != nil {
		return errs.TransientPeer(err)
	}
	if cacheable {
		c.cache.Add(u, cacheEntry{body: body})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errs.TransientPeer(errors.Wrap(err, "decoding peer response"))
	}
	return nil
}

// Op is one attempt of a retried operation.
type Op func(ctx context.Context) (interface{}, error)

// TryMany invokes op up to count times (DefaultRetryCount if count <= 0),
// returning the first success or the last failure. Grounded on
// original_source/src/utils.rs's async_try_many! macro, generalized from a
// compile-time macro to a runtime helper since Go has no equivalent
// expansion-time retry construct.
func TryMany(ctx context.Context, count int, op Op) (interface{}, error) {
	if count <= 0 {
		count = DefaultRetryCount
	}
	var lastErr error
	for i := 0; i < count; i++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		logger.Debug("peer op attempt failed", "attempt", i+1, "of", count, "err", err)
	}
	return nil, errors.Wrap(lastErr, "too many errors")
}
