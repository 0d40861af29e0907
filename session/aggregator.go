// Package session implements the time-bucketed ring aggregator that pairs
// request and response records into completed sessions, emitting
// half-sessions on eviction so no record is silently dropped.
package session

import (
	"time"

	"golang.org/x/exp/maps"

	"github.com/netobserve/l7agent/l7proto"
)

// DefaultBuckets and DefaultBucketWindow are the ring's compile-time
// defaults. NewAggregator's parameters exist for tests and callers with
// unusual retention needs, not for a config-driven production override.
const (
	DefaultBuckets      = 16
	DefaultBucketWindow = 60 * time.Second
	DefaultBucketCap    = 4096
)

// SessionKey is the packed 64-bit pairing key: flow_id[63:32] | proto[31:24]
// | session_id[23:0].
type SessionKey uint64

// NewSessionKey packs a flow identifier, protocol discriminant, and
// protocol-level session id into one SessionKey. Only the high 32 bits of
// flowID and the low 24 bits of sessionID participate; collisions within a
// bucket's window are accepted.
func NewSessionKey(flowID uint64, proto l7proto.Protocol, sessionID uint32) SessionKey {
	return SessionKey(flowID&0xffffffff00000000 | uint64(proto)<<24 | uint64(sessionID&0x00ffffff))
}

// pendingEntry is one buffered half-transaction record awaiting its
// opposite-direction counterpart.
type pendingEntry struct {
	info    l7proto.Info
	arrival time.Time
}

// bucket holds the half-transactions currently in flight for one window. A
// separate insertion-order slice lets the per-bucket cap evict the oldest
// entry in O(1) instead of ranging the map to find it.
type bucket struct {
	entries  map[SessionKey]*pendingEntry
	order    []SessionKey
	windowID int64
}

func newBucket() *bucket {
	return &bucket{entries: make(map[SessionKey]*pendingEntry), windowID: -1}
}

func (b *bucket) reset(windowID int64) {
	b.entries = make(map[SessionKey]*pendingEntry)
	b.order = nil
	b.windowID = windowID
}

// Emission is one record the aggregator hands back to the caller: either a
// merged request+response session, or a standalone half-session produced by
// bucket eviction or a full bucket's oldest-entry drop.
type Emission struct {
	Info l7proto.Info
	Half bool
}

// Aggregator is the ring of time-bucketed maps that pairs requests with
// responses. It is not safe for concurrent use; each worker owns a disjoint
// set of flows and processes them sequentially, so one Aggregator per
// worker needs no internal locking.
type Aggregator struct {
	buckets      []*bucket
	window       time.Duration
	cap          int
	headIndex    int
	headWindowID int64
	started      bool
}

// NewAggregator builds a ring of buckets count buckets, each spanning
// window, with at most capPerBucket pending half-transactions per bucket.
func NewAggregator(buckets int, window time.Duration, capPerBucket int) *Aggregator {
	bs := make([]*bucket, buckets)
	for i := range bs {
		bs[i] = newBucket()
	}
	return &Aggregator{buckets: bs, window: window, cap: capPerBucket}
}

// NewDefaultAggregator builds an Aggregator using DefaultBuckets,
// DefaultBucketWindow, and DefaultBucketCap.
func NewDefaultAggregator() *Aggregator {
	return NewAggregator(DefaultBuckets, DefaultBucketWindow, DefaultBucketCap)
}

func (a *Aggregator) windowID(ts time.Time) int64 {
	return ts.UnixNano() / int64(a.window)
}

// advance moves the ring head forward to cover windowID, evicting every
// bucket swept over (each emitted as half-sessions) before any insertion
// into the new head bucket: eviction always precedes an overwriting
// insertion.
func (a *Aggregator) advance(windowID int64, out *[]Emission) {
	if !a.started {
		a.headWindowID = windowID
		a.headIndex = 0
		a.buckets[a.headIndex].reset(windowID)
		a.started = true
		return
	}
	if windowID <= a.headWindowID {
		return
	}
	oldHeadWindowID := a.headWindowID
	steps := windowID - oldHeadWindowID
	if steps > int64(len(a.buckets)) {
		steps = int64(len(a.buckets))
	}
	for i := int64(1); i <= steps; i++ {
		a.headIndex = (a.headIndex + 1) % len(a.buckets)
		a.evictBucket(a.buckets[a.headIndex], out)
		a.buckets[a.headIndex].reset(oldHeadWindowID + i)
	}
	a.headWindowID = windowID
	a.buckets[a.headIndex].windowID = windowID
}

func (a *Aggregator) evictBucket(b *bucket, out *[]Emission) {
	for _, key := range maps.Keys(b.entries) {
		entry := b.entries[key]
		if !entry.info.SkipSend() {
			*out = append(*out, Emission{Info: entry.info, Half: true})
		}
	}
}

// Insert pairs or buffers one half-transaction record. A MsgRequest pairs
// with a buffered MsgResponse under the same key and vice versa; a record of
// any other message type is buffered and later emitted as a half-session.
// Any Emission returned must
// be handed to the caller's downstream sink; the aggregator keeps no record
// of what it has already emitted.
func (a *Aggregator) Insert(key SessionKey, info l7proto.Info, ts time.Time) []Emission {
	var out []Emission

	wid := a.windowID(ts)
	a.advance(wid, &out)

	current := a.buckets[a.headIndex]
	if a.tryMerge(current, key, info, &out) {
		return out
	}

	prevIndex := (a.headIndex - 1 + len(a.buckets)) % len(a.buckets)
	previous := a.buckets[prevIndex]
	if previous.windowID == a.headWindowID-1 && a.tryMerge(previous, key, info, &out) {
		return out
	}

	// Too far in the past to land in current or previous: nothing left to
	// pair with, and inserting would misattribute it to the wrong window.
	if wid < a.headWindowID-1 {
		if !info.SkipSend() {
			out = append(out, Emission{Info: info, Half: true})
		}
		return out
	}

	a.insert(current, key, info, ts, &out)
	return out
}

// tryMerge looks for an opposite-kind counterpart for key in b. On a hit it
// merges, removes the buffered entry, and (unless the merged record
// suppresses emission) appends the merged session to out.
func (a *Aggregator) tryMerge(b *bucket, key SessionKey, info l7proto.Info, out *[]Emission) bool {
	existing, ok := b.entries[key]
	if !ok {
		return false
	}
	em, im := existing.info.MessageType(), info.MessageType()
	if !(em == l7proto.MsgRequest && im == l7proto.MsgResponse) &&
		!(em == l7proto.MsgResponse && im == l7proto.MsgRequest) {
		return false
	}

	var request, response l7proto.Info
	if info.MessageType() == l7proto.MsgResponse {
		request, response = existing.info, info
	} else {
		request, response = info, existing.info
	}
	request.Merge(response)

	a.remove(b, key)
	if !request.SkipSend() {
		*out = append(*out, Emission{Info: request, Half: false})
	}
	return true
}

func (a *Aggregator) insert(b *bucket, key SessionKey, info l7proto.Info, ts time.Time, out *[]Emission) {
	if existing, exists := b.entries[key]; exists {
		a.remove(b, key)
		if !existing.info.SkipSend() {
			*out = append(*out, Emission{Info: existing.info, Half: true})
		}
	}
	if len(b.order) >= a.cap {
		oldestKey := b.order[0]
		b.order = b.order[1:]
		oldest := b.entries[oldestKey]
		delete(b.entries, oldestKey)
		if !oldest.info.SkipSend() {
			*out = append(*out, Emission{Info: oldest.info, Half: true})
		}
	}
	b.entries[key] = &pendingEntry{info: info, arrival: ts}
	b.order = append(b.order, key)
}

func (a *Aggregator) remove(b *bucket, key SessionKey) {
	delete(b.entries, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Flush evicts every bucket as half-sessions, in ring order starting one
// past the current head (oldest first). Called on worker shutdown.
func (a *Aggregator) Flush() []Emission {
	var out []Emission
	if !a.started {
		return out
	}
	for i := 1; i <= len(a.buckets); i++ {
		idx := (a.headIndex + i) % len(a.buckets)
		a.evictBucket(a.buckets[idx], &out)
		a.buckets[idx].entries = make(map[SessionKey]*pendingEntry)
		a.buckets[idx].order = nil
	}
	return out
}
