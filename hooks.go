package hotrod

import "time"

// Hooks are callbacks for high-signal client events.
// Implementations MUST be cheap and non-blocking; they run on request paths.
// Wrap slow sinks with hooks/async.
type Hooks interface {
	// A connection to addr was opened (after handshake) or closed.
	ConnOpened(addr string)
	ConnClosed(addr string)

	// A server was taken out of rotation after a transport failure.
	ServerUnhealthy(addr string, err error)

	// SASL negotiation with addr failed.
	AuthFailed(addr, mechanism string, err error)

	// A cache operation finished; err is nil on success. Absent keys are not errors.
	OpDone(cache, op string, took time.Duration, err error)

	// Near cache lookups. hit=false means the remote server was asked.
	NearCacheLookup(cache string, hit bool)

	// The near cache deleted an entry on read.
	// reason ∈ {"corrupt", "gen_mismatch"}
	NearCacheSelfHeal(cache, key, reason string)

	// The near cache provider rejected a write or the generation store failed.
	NearCacheSetRejected(cache, key string)
	NearCacheGenError(cache string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) ConnOpened(string)                           {}
func (NopHooks) ConnClosed(string)                           {}
func (NopHooks) ServerUnhealthy(string, error)               {}
func (NopHooks) AuthFailed(string, string, error)            {}
func (NopHooks) OpDone(string, string, time.Duration, error) {}
func (NopHooks) NearCacheLookup(string, bool)                {}
func (NopHooks) NearCacheSelfHeal(string, string, string)    {}
func (NopHooks) NearCacheSetRejected(string, string)         {}
func (NopHooks) NearCacheGenError(string, error)             {}
