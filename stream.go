package l7agent

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"
	"github.com/google/uuid"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/normalize"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/session"
)

// Sink receives every record this module's capture wiring produces, in
// arrival order.
type Sink func(normalize.Record)

// tcpStreamFactory hands the assembler a fresh tcpStream per TCP connection,
// each carrying its own identification state and flow identifier.
type tcpStreamFactory struct {
	reg        *registry.Registry
	dispatcher *registry.Dispatcher
	agg        *session.Aggregator
	sink       Sink
	cfg        *config.Store
}

func newTCPStreamFactory(reg *registry.Registry, agg *session.Aggregator, sink Sink, cfg *config.Store) *tcpStreamFactory {
	return &tcpStreamFactory{
		reg:        reg,
		dispatcher: registry.NewDispatcher(reg),
		agg:        agg,
		sink:       sink,
		cfg:        cfg,
	}
}

// snapshot returns the current configuration snapshot, or nil if this
// factory was built without a config.Store (every protocol enabled).
func (fact *tcpStreamFactory) snapshot() *config.Snapshot {
	if fact.cfg == nil {
		return nil
	}
	return fact.cfg.Load()
}

func (fact *tcpStreamFactory) New(netFlow, _ gopacket.Flow, tcp *layers.TCP, _ reassembly.AssemblerContext) reassembly.Stream {
	return &tcpStream{
		fact:    fact,
		netFlow: netFlow,
		flowID:  flowIDFor(netFlow, tcp),
		fs:      registry.NewFlowState(fact.reg, l7proto.TCP),
		ports:   make(map[reassembly.TCPFlowDirection]portPair),
	}
}

// flowIDFor derives a session-key-ready flow identifier from a connection's
// 4-tuple and a random component, so two connections that happen to reuse a
// 4-tuple within the same capture still get distinct high bits.
func flowIDFor(netFlow gopacket.Flow, tcp *layers.TCP) uint64 {
	id := uuid.New()
	seed := binary.BigEndian.Uint64(id[:8])
	return seed ^ uint64(netFlow.FastHash())<<32 ^ uint64(tcp.SrcPort)<<16 ^ uint64(tcp.DstPort)
}

type portPair struct {
	src, dst uint16
}

// tcpStream is one TCP connection, both directions. reassembly.Assembler
// guarantees in-order, gap-free delivery per direction; ReassembledSG hands
// each reassembled run straight to the dispatcher as one payload.
type tcpStream struct {
	fact    *tcpStreamFactory
	netFlow gopacket.Flow
	flowID  uint64
	fs      *registry.FlowState
	ports   map[reassembly.TCPFlowDirection]portPair
}

var _ reassembly.Stream = (*tcpStream)(nil)

// Accept records the packet's ports against its direction and forces
// reassembly to start immediately: a mid-capture connection whose SYN was
// never observed would otherwise stall forever waiting for one.
func (s *tcpStream) Accept(tcp *layers.TCP, ci gopacket.CaptureInfo, dir reassembly.TCPFlowDirection,
	nextSeq reassembly.Sequence, start *bool, ac reassembly.AssemblerContext) bool {
	s.ports[dir] = portPair{src: uint16(tcp.SrcPort), dst: uint16(tcp.DstPort)}
	*start = true
	return true
}

func (s *tcpStream) ReassembledSG(sg reassembly.ScatterGather, ac reassembly.AssemblerContext) {
	dir, _, _, _ := sg.Info()
	length, _ := sg.Lengths()
	if length == 0 {
		return
	}
	payload := sg.Fetch(length)
	ci := sg.CaptureInfo(0)

	srcEnd, dstEnd := s.netFlow.Endpoints()
	srcIP, dstIP := net.IP(srcEnd.Raw()), net.IP(dstEnd.Raw())
	ports := s.ports[dir]
	direction := l7proto.ClientToServer
	if dir == reassembly.TCPDirServerToClient {
		srcIP, dstIP = dstIP, srcIP
		direction = l7proto.ServerToClient
	}

	param := &l7proto.ParseParam{
		L4:         l7proto.TCP,
		SrcIP:      srcIP,
		SrcPort:    ports.src,
		DstIP:      dstIP,
		DstPort:    ports.dst,
		Direction:  direction,
		TimeMicros: ci.Timestamp.UnixMicro(),
	}

	infos, err := s.fact.dispatcher.HandlePayload(s.fs, payload, param, s.fact.snapshot())
	if err != nil || len(infos) == 0 {
		return
	}
	s.emit(infos, param, ci.Timestamp)
}

func (s *tcpStream) emit(infos []l7proto.Info, param *l7proto.ParseParam, ts time.Time) {
	for _, info := range infos {
		key := session.NewSessionKey(s.flowID, info.Protocol(), info.SessionID())
		for _, em := range s.fact.agg.Insert(key, info, ts) {
			s.fact.sink(normalize.From(em.Info, param))
		}
	}
}

func (s *tcpStream) ReassemblyComplete(ac reassembly.AssemblerContext) bool {
	return true
}
