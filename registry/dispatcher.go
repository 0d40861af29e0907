package registry

import (
	"log"

	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
)

// MaxIdentifyAttempts is the number of full registry walks a flow may fail
// before it is downgraded to Unknown and its bitmap zeroed.
const MaxIdentifyAttempts = 10

// Verbose gates the package's debug line for a flow downgraded to Unknown
// after exhausting its identification attempts. Off by default;
// hosts that want the noise flip it.
var Verbose = false

// FlowState is the per-flow state the dispatch layer needs: which protocol
// (if any) the flow is pinned to, its current candidate bitmap, and how many
// consecutive full walks have failed to identify it. The flow tracker owns
// the zero-value-initialized struct and threads it through repeated
// HandlePayload calls for the same flow.
type FlowState struct {
	Bitmap l7proto.Bitmap
	Pinned l7proto.Protocol
	pinnedParser Parser
	failedAttempts int
}

// NewFlowState builds a FlowState with the initial candidate bitmap for a
// freshly observed flow on the given transport.
func NewFlowState(reg *Registry, l4 l7proto.L4Protocol) *FlowState {
	return &FlowState{
		Bitmap: reg.InitialBitmap(l4),
		Pinned: l7proto.Unknown,
	}
}

// Dispatcher is the identification driver: given a payload on a flow,
// it either hands off to the flow's pinned parser or walks the registry
// looking for one to accept.
type Dispatcher struct {
	reg *Registry
}

// NewDispatcher builds a Dispatcher over the given registry.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// HandlePayload implements steps 1-3. It returns the records produced
// by the accepting (or already-pinned) parser, or nil if no parser accepted
// or the pinned parser failed to parse this particular payload. cfg gates
// which protocols the identification walk may consider via
// cfg.Enabled; a nil cfg enables every protocol.
func (d *Dispatcher) HandlePayload(fs *FlowState, payload []byte, param *l7proto.ParseParam, cfg *config.Snapshot) ([]l7proto.Info, error) {
	if fs.Pinned != l7proto.Unknown && fs.pinnedParser != nil {
		infos, err := fs.pinnedParser.ParsePayload(payload, param)
		if err != nil {
			// A parse error drops the payload, never the flow.
			return nil, nil
		}
		return infos, nil
	}

	if fs.Bitmap.Empty() {
		return nil, errors.WithStack(l7proto.ErrBitmapEmpty)
	}

	candidates := d.orderedCandidates(fs, param)

	for _, p := range candidates {
		if !fs.Bitmap.Test(p.Protocol()) {
			continue
		}
		if !l4Eligible(p, param.L4) {
			continue
		}
		if !cfg.Enabled(p.Protocol()) {
			continue
		}
		if !p.CheckPayload(payload, param) {
			continue
		}

		// Accept: pin the flow, clear every other candidate bit, and parse
		// immediately using the very instance that just ran CheckPayload so
		// any cached intermediate state is reused.
		fs.Pinned = p.Protocol()
		fs.pinnedParser = p
		for _, proto := range d.reg.Order() {
			if proto != p.Protocol() {
				fs.Bitmap.Clear(proto)
			}
		}
		infos, err := p.ParsePayload(payload, param)
		if err != nil {
			return nil, nil
		}
		return infos, nil
	}

	// No parser accepted this payload. Every candidate remains a candidate
	// for a future packet on this flow by default; only the
	// failure counter advances.
	fs.failedAttempts++
	if fs.failedAttempts >= MaxIdentifyAttempts {
		fs.Bitmap.ClearAll()
		if Verbose {
			log.Printf("l7agent/registry: flow exhausted %d identification attempts, marking unknown", fs.failedAttempts)
		}
		return nil, errors.WithStack(l7proto.ErrBitmapEmpty)
	}
	return nil, nil
}

// orderedCandidates returns a fresh parser instance per registered
// protocol, with param.KernelHint (if still a live candidate) moved to the
// front — an ordering optimization only; CheckPayload still gates
// acceptance for the hinted protocol exactly as for any other.
func (d *Dispatcher) orderedCandidates(fs *FlowState, param *l7proto.ParseParam) []Parser {
	all := d.reg.AllFresh()
	if param.KernelHint == l7proto.Unknown || !fs.Bitmap.Test(param.KernelHint) {
		return all
	}
	hinted := make([]Parser, 0, len(all))
	rest := make([]Parser, 0, len(all))
	for _, p := range all {
		if p.Protocol() == param.KernelHint {
			hinted = append(hinted, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(hinted, rest...)
}

func l4Eligible(p Parser, l4 l7proto.L4Protocol) bool {
	switch l4 {
	case l7proto.TCP:
		return p.ParsableOnTCP()
	case l7proto.UDP:
		return p.ParsableOnUDP()
	default:
		return false
	}
}
