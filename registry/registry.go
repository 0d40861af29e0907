package registry

import "github.com/netobserve/l7agent/l7proto"

// Factory constructs one fresh, empty Parser instance.
type Factory func() Parser

// Registry enumerates every supported parser variant in a fixed,
// documented order. The order is a tie-breaker only: parsers are
// designed so their CheckPayload predicates are mutually near-disjoint.
type Registry struct {
	order     []l7proto.Protocol
	factories map[l7proto.Protocol]Factory
}

// New builds an empty registry. Call Register for each supported protocol,
// in the default precedence order: HTTP/1, HTTP/2, DNS, MySQL, Kafka,
// Redis, Postgres, Dubbo, MQTT.
func New() *Registry {
	return &Registry{
		factories: make(map[l7proto.Protocol]Factory),
	}
}

// Register adds a parser factory at the end of the identification order.
// Registering the same protocol twice replaces the earlier factory but
// keeps its original position.
func (r *Registry) Register(p l7proto.Protocol, f Factory) {
	if _, exists := r.factories[p]; !exists {
		r.order = append(r.order, p)
	}
	r.factories[p] = f
}

// FreshParser constructs an empty parser for a known protocol, or nil if
// the protocol isn't registered.
func (r *Registry) FreshParser(p l7proto.Protocol) Parser {
	f, ok := r.factories[p]
	if !ok {
		return nil
	}
	return f()
}

// AllFresh returns one freshly constructed parser per registered protocol,
// in identification precedence order. The identification driver walks this
// slice once per dispatch attempt; a parser that accepts is handed off to
// the caller (its CheckPayload-cached state carries into ParsePayload), the
// rest are discarded.
func (r *Registry) AllFresh() []Parser {
	out := make([]Parser, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.factories[p]())
	}
	return out
}

// InitialBitmap returns the candidate set for a flow on the given L4
// transport: bit n set iff the parser for discriminant n reports itself
// parsable on that transport. Unlisted/unknown L4 yields the zero
// bitmap.
func (r *Registry) InitialBitmap(l4 l7proto.L4Protocol) l7proto.Bitmap {
	var bm l7proto.Bitmap
	if l4 != l7proto.TCP && l4 != l7proto.UDP {
		return bm
	}
	for _, p := range r.order {
		parser := r.factories[p]()
		switch l4 {
		case l7proto.TCP:
			if parser.ParsableOnTCP() {
				bm.Set(p)
			}
		case l7proto.UDP:
			if parser.ParsableOnUDP() {
				bm.Set(p)
			}
		}
	}
	return bm
}

// Order returns the registered protocols in identification precedence
// order.
func (r *Registry) Order() []l7proto.Protocol {
	out := make([]l7proto.Protocol, len(r.order))
	copy(out, r.order)
	return out
}
