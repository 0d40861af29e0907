// Package config holds the host-provided, read-only parser configuration
// and the atomically-swapped snapshot handle parsers consult between
// payloads.
package config

import (
	"sync/atomic"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/sets"
)

// DubboSerializer is one of Dubbo's pluggable body serialization formats.
type DubboSerializer uint8

const (
	Hessian2 DubboSerializer = iota
	FastJSON
	Protobuf
)

// Snapshot is the immutable configuration bundle a parser consults.
// Every field here is read-only after construction; callers build a new
// Snapshot and publish it wholesale rather than mutating one in place.
type Snapshot struct {
	HTTPLogProxyClientHeader string
	HTTPLogXRequestIDHeader  string
	HTTPLogTraceIDHeader     string
	HTTPLogSpanIDHeader      string

	DubboLogSerializers sets.Set[DubboSerializer]

	// ParserEnabled gates whether a protocol is offered to the
	// identification driver at all. A protocol absent from this map
	// defaults to enabled.
	ParserEnabled map[l7proto.Protocol]bool
}

// Enabled reports whether the given protocol discriminant is enabled,
// defaulting to true when absent from ParserEnabled.
func (s *Snapshot) Enabled(proto l7proto.Protocol) bool {
	if s == nil || s.ParserEnabled == nil {
		return true
	}
	v, ok := s.ParserEnabled[proto]
	if !ok {
		return true
	}
	return v
}

// DubboEnabled reports whether the given Dubbo body serializer is enabled.
func (s *Snapshot) DubboEnabled(ser DubboSerializer) bool {
	if s == nil || s.DubboLogSerializers == nil {
		return false
	}
	return s.DubboLogSerializers.Contains(ser)
}

// Store is a read-mostly, atomically-swapped Snapshot handle. Updates
// publish a brand-new Snapshot; readers never observe a partially-updated
// one. Parsers call Load between payloads, never mid-parse.
type Store struct {
	ptr atomic.Pointer[Snapshot]
}

// NewStore builds a Store holding the given initial snapshot (which may be
// nil, in which case every Enabled/DubboEnabled query uses the documented
// defaults).
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Snapshot {
	return s.ptr.Load()
}

// Swap atomically publishes a new snapshot.
func (s *Store) Swap(next *Snapshot) {
	s.ptr.Store(next)
}
