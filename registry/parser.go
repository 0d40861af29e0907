// Package registry holds the parser registry, fast-reject bitmap wiring, and
// the identification driver that walks registered parsers on first contact
// with a flow.
package registry

import (
	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
)

// Parser is the contract every per-protocol parser implements. A
// Parser instance is stateful: CheckPayload may cache intermediate decode
// results so a following ParsePayload call on the same payload can reuse
// them without re-walking the bytes — the only legitimate mutation allowed
// during a check.
type Parser interface {
	// Protocol returns the discriminant this parser owns.
	Protocol() l7proto.Protocol

	// ParsableOnTCP/ParsableOnUDP gate L4 eligibility.
	ParsableOnTCP() bool
	ParsableOnUDP() bool

	// CheckPayload is the identification heuristic. It MUST be side-effect
	// free on payload itself, deterministic, and idempotent. It MAY
	// populate parser-instance-local fields for ParsePayload to reuse.
	CheckPayload(payload []byte, param *l7proto.ParseParam) bool

	// ParsePayload performs the full parse, returning zero or more records
	// (multiple when one delivery coalesces several messages). Returns
	// l7proto.ErrParseFailed (wrapped) on malformed input.
	ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error)

	// SetParseConfig installs a new configuration snapshot. No-op for
	// protocols that don't consult host configuration.
	SetParseConfig(cfg *config.Snapshot)

	// Reset returns the parser to an empty state, e.g. when a parser slot
	// is being reused for a new flow.
	Reset()
}
