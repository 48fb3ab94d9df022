package registry

import (
	"sort"
	"sync"
	"time"
)

// Record is the storage representation of one projected sensor.
//
// Record is optimized for JSON serialization (used by the REST API and SSE).
// It is decoupled from the root package's sensor type to allow independent
// evolution.
type Record struct {
	// Key is the sensor's stable identifier within its source.
	Key string `json:"key"`

	// SourceID identifies the owning source.
	SourceID string `json:"source_id"`

	// SourceName is the owning source's display name.
	SourceName string `json:"source_name"`

	// Kind classifies the sensor: "type", "plant", or "metadata".
	Kind string `json:"kind"`

	// Name is the sensor's display name.
	Name string `json:"name"`

	// State is the sensor's primary value. nil when the latest snapshot
	// carried no reading.
	State any `json:"state"`

	// Attributes holds the sensor's descriptive details.
	Attributes map[string]any `json:"attributes,omitempty"`

	// UpdatedAt is the timestamp of the refresh that last touched this
	// record.
	UpdatedAt time.Time `json:"updated_at"`
}

// Event describes one source state transition for streaming consumers.
type Event struct {
	// SourceID identifies the source that transitioned.
	SourceID string `json:"source_id"`

	// SourceName is the source's display name.
	SourceName string `json:"source_name"`

	// State is the state the source transitioned into.
	State string `json:"state"`

	// Error is the failure message for backoff and auth_failed transitions,
	// empty otherwise. Messages are pre-redacted by the refresh layer.
	Error string `json:"error,omitempty"`

	// Sensors holds the source's full record set. Populated only on ready
	// transitions.
	Sensors []Record `json:"sensors,omitempty"`

	// At is the timestamp of the transition.
	At time.Time `json:"at"`
}

// Registry is the in-memory sensor catalog with a publish-subscribe
// mechanism for real-time updates.
//
// Records are keyed by source ID and sensor key. The catalog only grows on
// refresh: a sensor that disappears from a later snapshot keeps its last
// record, so consumers never watch an entity vanish because the upstream had
// a sparse day. Shrinking is an explicit operation ([Registry.Reconcile] and
// [Registry.DropSource]).
//
// Subscribers receive events via buffered channels (buffer size 100). Events
// are sent non-blocking; if a subscriber's buffer is full, the event is
// dropped for that subscriber to prevent blocking the refresh path.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]map[string]Record

	subMu       sync.RWMutex
	subscribers map[chan Event]struct{}
}

// New creates an empty [Registry].
//
// The registry is immediately ready for use. No cleanup is required when
// done.
func New() *Registry {
	return &Registry{
		sources:     make(map[string]map[string]Record),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Apply upserts a source's records and returns how many keys were new.
//
// Existing records with the same key are replaced; records absent from this
// batch are left untouched, so the catalog never shrinks on refresh.
func (r *Registry) Apply(sourceID string, records []Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey := r.sources[sourceID]
	if byKey == nil {
		byKey = make(map[string]Record, len(records))
		r.sources[sourceID] = byKey
	}

	added := 0
	for _, rec := range records {
		if _, ok := byKey[rec.Key]; !ok {
			added++
		}
		byKey[rec.Key] = rec
	}
	return added
}

// Reconcile removes a source's records whose key fails the keep predicate
// and returns the removed keys. This is the explicit shrink path, used when
// a source's options change and previously projected sensors (such as the
// per-day ones) are no longer wanted.
func (r *Registry) Reconcile(sourceID string, keep func(key string) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey := r.sources[sourceID]
	if byKey == nil {
		return nil
	}

	var removed []string
	for key := range byKey {
		if !keep(key) {
			delete(byKey, key)
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// DropSource removes every record belonging to a source. Safe to call for an
// unknown source.
func (r *Registry) DropSource(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sources, sourceID)
}

// Source returns a snapshot of one source's records, sorted by key.
//
// The returned slice is a copy; modifications do not affect the registry.
func (r *Registry) Source(sourceID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey := r.sources[sourceID]
	records := make([]Record, 0, len(byKey))
	for _, rec := range byKey {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})
	return records
}

// All returns a snapshot of every record across all sources, sorted by
// source name and then key.
func (r *Registry) All() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []Record
	for _, byKey := range r.sources {
		for _, rec := range byKey {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].SourceName != records[j].SourceName {
			return records[i].SourceName < records[j].SourceName
		}
		return records[i].Key < records[j].Key
	})
	return records
}

// Keys returns a source's record keys, sorted.
func (r *Registry) Keys(sourceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKey := r.sources[sourceID]
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Publish sends an event to all active subscribers.
func (r *Registry) Publish(event Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber is slow, drop the event
		}
	}
}

// Subscribe creates a new subscription and returns a channel for receiving
// events.
//
// The returned channel has a buffer of 100 messages. If the buffer fills
// (slow consumer), new events are dropped for this subscriber.
//
// Caller must call [Registry.Unsubscribe] when done to prevent resource
// leaks.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 100)

	r.subMu.Lock()
	r.subscribers[ch] = struct{}{}
	r.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// After calling Unsubscribe, the channel will be closed and no further
// events will be sent. Safe to call multiple times or with an unknown
// channel.
func (r *Registry) Unsubscribe(ch <-chan Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	// find and delete the channel (need to convert to the right type)
	for subCh := range r.subscribers {
		if subCh == ch {
			delete(r.subscribers, subCh)
			close(subCh)
			break
		}
	}
}
