package l7agent

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/normalize"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/session"
)

// udpDispatcher tracks per-flow identification state for connectionless
// traffic. UDP has no SYN/FIN to key a connection's lifetime on, so flows
// age out on their own schedule rather than being torn down explicitly;
// idleTimeout bounds how long a silent flow's state is kept around.
type udpDispatcher struct {
	dispatcher  *registry.Dispatcher
	reg         *registry.Registry
	agg         *session.Aggregator
	sink        Sink
	cfg         *config.Store
	flows       map[udpFlowKey]*udpFlow
	idleTimeout time.Duration
}

const defaultUDPIdleTimeout = 120 * time.Second

func newUDPDispatcher(reg *registry.Registry, agg *session.Aggregator, sink Sink, cfg *config.Store) *udpDispatcher {
	return &udpDispatcher{
		dispatcher:  registry.NewDispatcher(reg),
		reg:         reg,
		agg:         agg,
		sink:        sink,
		cfg:         cfg,
		flows:       make(map[udpFlowKey]*udpFlow),
		idleTimeout: defaultUDPIdleTimeout,
	}
}

// snapshot returns the current configuration snapshot, or nil if this
// dispatcher was built without a config.Store (every protocol enabled).
func (u *udpDispatcher) snapshot() *config.Snapshot {
	if u.cfg == nil {
		return nil
	}
	return u.cfg.Load()
}

type udpFlow struct {
	fs       *registry.FlowState
	flowID   uint64
	lastSeen time.Time
}

// udpFlowKey is direction-invariant: the same two endpoints produce the same
// key regardless of which one is currently sending.
type udpFlowKey struct {
	loIP, hiIP     string
	loPort, hiPort uint16
}

func newUDPFlowKey(srcIP, dstIP net.IP, srcPort, dstPort uint16) udpFlowKey {
	a, aPort := srcIP.String(), srcPort
	b, bPort := dstIP.String(), dstPort
	if a > b || (a == b && aPort > bPort) {
		a, b = b, a
		aPort, bPort = bPort, aPort
	}
	return udpFlowKey{loIP: a, hiIP: b, loPort: aPort, hiPort: bPort}
}

func (u *udpDispatcher) handle(netLayer gopacket.NetworkLayer, udpLayer *layers.UDP, ci gopacket.CaptureInfo) {
	srcEnd, dstEnd := netLayer.NetworkFlow().Endpoints()
	srcIP, dstIP := net.IP(srcEnd.Raw()), net.IP(dstEnd.Raw())
	srcPort, dstPort := uint16(udpLayer.SrcPort), uint16(udpLayer.DstPort)

	key := newUDPFlowKey(srcIP, dstIP, srcPort, dstPort)
	flow, ok := u.flows[key]
	if !ok {
		flow = &udpFlow{
			fs:     registry.NewFlowState(u.reg, l7proto.UDP),
			flowID: newUDPFlowID(srcIP, dstIP, srcPort, dstPort),
		}
		u.flows[key] = flow
	}
	flow.lastSeen = ci.Timestamp
	u.evictIdle(ci.Timestamp)

	param := &l7proto.ParseParam{
		L4:         l7proto.UDP,
		SrcIP:      srcIP,
		SrcPort:    srcPort,
		DstIP:      dstIP,
		DstPort:    dstPort,
		Direction:  l7proto.ClientToServer,
		TimeMicros: ci.Timestamp.UnixMicro(),
	}

	infos, err := u.dispatcher.HandlePayload(flow.fs, udpLayer.Payload, param, u.snapshot())
	if err != nil || len(infos) == 0 {
		return
	}
	for _, info := range infos {
		k := session.NewSessionKey(flow.flowID, info.Protocol(), info.SessionID())
		for _, em := range u.agg.Insert(k, info, ci.Timestamp) {
			u.sink(normalize.From(em.Info, param))
		}
	}
}

func (u *udpDispatcher) evictIdle(now time.Time) {
	for key, flow := range u.flows {
		if now.Sub(flow.lastSeen) > u.idleTimeout {
			delete(u.flows, key)
		}
	}
}

func newUDPFlowID(srcIP, dstIP net.IP, srcPort, dstPort uint16) uint64 {
	id := uuid.New()
	seed := binary.BigEndian.Uint64(id[:8])
	return seed ^ uint64(srcPort)<<32 ^ uint64(dstPort)<<16
}
