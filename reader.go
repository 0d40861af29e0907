package l7agent

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// Reader supplies the packet stream that Parse assembles and dispatches.
// A host typically backs this with a live interface or an offline capture
// file; both are thin wrappers over gopacket.PacketSource.
type Reader interface {
	Packets(ctx context.Context) (<-chan gopacket.Packet, error)
}

// PcapFile reads packets from an offline capture file.
type PcapFile struct {
	name string
}

func NewPcapFile(pcapname string) Reader {
	return &PcapFile{name: pcapname}
}

func (p *PcapFile) Packets(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenOffline(p.name)
	if err != nil {
		return nil, errors.Wrapf(err, "l7agent: open capture file %q", p.name)
	}

	out := make(chan gopacket.Packet)
	go func() {
		defer handle.Close()
		defer close(out)

		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range packetSource.Packets() {
			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()

	return out, nil
}

// LiveInterface reads packets from a live network interface.
type LiveInterface struct {
	device  string
	snaplen int32
	promisc bool
}

func NewLiveInterface(device string, snaplen int32, promisc bool) Reader {
	return &LiveInterface{device: device, snaplen: snaplen, promisc: promisc}
}

func (l *LiveInterface) Packets(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenLive(l.device, l.snaplen, l.promisc, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "l7agent: open interface %q", l.device)
	}

	out := make(chan gopacket.Packet)
	go func() {
		defer handle.Close()
		defer close(out)

		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-packetSource.Packets():
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- packet:
				}
			}
		}
	}()

	return out, nil
}
