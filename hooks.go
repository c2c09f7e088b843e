package apicache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; some are called while the
// cache holds its lock. Wrap slow sinks with hooks/async.
type Hooks interface {
	// A cached or persisted result was discarded on read and treated as a miss.
	// reason ∈ {"corrupt_frame", "payload_decode", "gen_mismatch"}
	SelfHeal(key, reason string)

	// A network fetch for a query settled. status is StatusFulfilled or StatusRejected.
	FetchResolved(operation string, status Status, elapsed time.Duration)

	// An invalidation ran; marked is the number of entries that went stale.
	TagsInvalidated(tags, marked int)

	// An unsubscribed entry outlived the grace window and was removed.
	EntryCollected(key string)

	// The first auth failure of an episode (the one that fires OnAuthError).
	AuthFailure(operation, code string)

	// A storage medium failed; op ∈ {"get", "set", "remove", "clear", "decode",
	// "encode"} from storage, {"persist", "reset"} from the result tier.
	StorageError(op, key string, err error)

	// The persistence provider returned ok=false on Set (backpressure/eviction).
	PersistRejected(key string)

	// GenStore errors. op ∈ {"snapshot", "bump"}; scopes is the number of scopes involved.
	GenStoreError(op string, scopes int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                     {}
func (NopHooks) FetchResolved(string, Status, time.Duration) {}
func (NopHooks) TagsInvalidated(int, int)                    {}
func (NopHooks) EntryCollected(string)                       {}
func (NopHooks) AuthFailure(string, string)                  {}
func (NopHooks) StorageError(string, string, error)          {}
func (NopHooks) PersistRejected(string)                      {}
func (NopHooks) GenStoreError(string, int, error)            {}

// MultiHooks fans every event out to each of its members, in order.
type MultiHooks []Hooks

func (m MultiHooks) SelfHeal(k, r string) {
	for _, h := range m {
		h.SelfHeal(k, r)
	}
}

func (m MultiHooks) FetchResolved(op string, s Status, d time.Duration) {
	for _, h := range m {
		h.FetchResolved(op, s, d)
	}
}

func (m MultiHooks) TagsInvalidated(tags, marked int) {
	for _, h := range m {
		h.TagsInvalidated(tags, marked)
	}
}

func (m MultiHooks) EntryCollected(k string) {
	for _, h := range m {
		h.EntryCollected(k)
	}
}

func (m MultiHooks) AuthFailure(op, code string) {
	for _, h := range m {
		h.AuthFailure(op, code)
	}
}

func (m MultiHooks) StorageError(op, k string, err error) {
	for _, h := range m {
		h.StorageError(op, k, err)
	}
}

func (m MultiHooks) PersistRejected(k string) {
	for _, h := range m {
		h.PersistRejected(k)
	}
}

func (m MultiHooks) GenStoreError(op string, n int, err error) {
	for _, h := range m {
		h.GenStoreError(op, n, err)
	}
}
