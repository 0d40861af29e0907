// Package l7agent wires the protocol parsers, the session aggregator, and a
// gopacket/reassembly-based capture loop together into a runnable host
// program. The dispatch and aggregation layers underneath have no
// dependency on how payloads arrive; this file is one way to feed them
// from a live interface or an offline capture file.
package l7agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/reassembly"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/normalize"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/session"
)

// The maximum time we will wait before flushing a connection and delivering
// the data even if there is a gap in the collected sequence.
var StreamFlushTimeout = 10 * time.Second

// The maximum time we will leave a connection open waiting for traffic.
var StreamCloseTimeout = 90 * time.Second

// Maximum size of gopacket reassembly buffers, per interface and direction.
// A gopacket page is 1900 bytes; this caps total memory at ~200MB.
var MaxBufferedPagesTotal = 100_000

// MaxBufferedPagesPerConnection bounds how much unacknowledged-gap data one
// stalled connection may hold before the assembler starts discarding it.
var MaxBufferedPagesPerConnection = 4_000

// Parse reads every packet reader produces, reassembles TCP streams and
// dispatches UDP datagrams directly, and hands every produced record to
// sink. cfg, if non-nil, is consulted between payloads to gate which
// protocols the identification walk considers (config.Snapshot.ParserEnabled);
// pass nil to run with every protocol enabled. Parse returns when reader's
// packet channel closes or ctx is canceled.
func Parse(ctx context.Context, reader Reader, reg *registry.Registry, sink Sink, cfg *config.Store) error {
	packets, err := reader.Packets(ctx)
	if err != nil {
		return err
	}

	agg := session.NewDefaultAggregator()
	streamFactory := newTCPStreamFactory(reg, agg, sink, cfg)
	streamPool := reassembly.NewStreamPool(streamFactory)
	assembler := reassembly.NewAssembler(streamPool)
	assembler.AssemblerOptions.MaxBufferedPagesTotal = MaxBufferedPagesTotal
	assembler.AssemblerOptions.MaxBufferedPagesPerConnection = MaxBufferedPagesPerConnection

	udp := newUDPDispatcher(reg, agg, sink, cfg)

	ticker := time.NewTicker(StreamFlushTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			assembler.FlushAll()
			for _, em := range agg.Flush() {
				sink(normalize.From(em.Info, &l7proto.ParseParam{}))
			}
			return ctx.Err()

		case packet, more := <-packets:
			if !more || packet == nil {
				assembler.FlushAll()
				for _, em := range agg.Flush() {
					sink(normalize.From(em.Info, &l7proto.ParseParam{}))
				}
				return nil
			}
			dispatchPacket(packet, assembler, udp)

		case <-ticker.C:
			now := time.Now()
			flushed, closed := assembler.FlushWithOptions(reassembly.FlushOptions{
				T:  now.Add(-StreamFlushTimeout),
				TC: now.Add(-StreamCloseTimeout),
			})
			if flushed != 0 || closed != 0 {
				fmt.Printf("l7agent: flushed %d, closed %d streams\n", flushed, closed)
			}
		}
	}
}

func dispatchPacket(packet gopacket.Packet, assembler *reassembly.Assembler, udp *udpDispatcher) {
	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return
	}

	if tcp, ok := packet.TransportLayer().(*layers.TCP); ok {
		ctx := &assemblerCtxWithSeq{
			ci:  packet.Metadata().CaptureInfo,
			seq: reassembly.Sequence(tcp.Seq),
			ack: reassembly.Sequence(tcp.Ack),
		}
		assembler.AssembleWithContext(netLayer.NetworkFlow(), tcp, ctx)
		return
	}
	if udpLayer, ok := packet.TransportLayer().(*layers.UDP); ok {
		udp.handle(netLayer, udpLayer, packet.Metadata().CaptureInfo)
	}
}

// assemblerCtxWithSeq is the reassembly.AssemblerContext the assembler needs
// when packets are fed in from a channel rather than consumed directly from
// a gopacket.PacketSource loop.
type assemblerCtxWithSeq struct {
	ci       gopacket.CaptureInfo
	seq, ack reassembly.Sequence
}

func (ctx *assemblerCtxWithSeq) GetCaptureInfo() gopacket.CaptureInfo { return ctx.ci }
