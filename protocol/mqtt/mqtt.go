// Package mqtt implements the MQTT fixed-header parser: the packet-type
// nibble, flags, and the continuation-bit-encoded remaining-length varint
// shared by every MQTT control packet, plus packet-id extraction for the
// packet types that carry one.
package mqtt

import (
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
)

// Packet type nibble values (top 4 bits of the first fixed-header byte).
const (
	typeConnect     = 1
	typeConnAck     = 2
	typePublish     = 3
	typePubAck      = 4
	typePubRec      = 5
	typePubRel      = 6
	typePubComp     = 7
	typeSubscribe   = 8
	typeSubAck      = 9
	typeUnsubscribe = 10
	typeUnsubAck    = 11
	typePingReq     = 12
	typePingResp    = 13
	typeDisconnect  = 14
)

// Info is MqttInfo: one MQTT control packet.
type Info struct {
	base l7proto.Base

	PacketType      byte
	Flags           byte
	RemainingLength uint32
	PacketID        uint16

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.MQTT }
func (i *Info) SessionID() uint32                { return uint32(i.PacketID) }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateless MQTT parser instance registered per flow.
type Parser struct{}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.MQTT }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}
func (p *Parser) Reset()                              {}

// CheckPayload requires a known packet-type nibble and a remaining-length
// varint that decodes within the 1-4 byte continuation-bit limit and whose
// declared length is fully present.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP || len(payload) == 0 {
		return false
	}
	packetType := payload[0] >> 4
	if !isKnownType(packetType) {
		return false
	}
	remLen, hdrLen, ok := decodeVarint(payload, 1)
	if !ok {
		return false
	}
	return hdrLen+int(remLen) <= len(payload)
}

// ParsePayload decodes the fixed header and, for packet types that carry
// one, the 2-byte big-endian packet id immediately following the fixed
// header (and, for PUBLISH, following its variable-length topic name).
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}
	if len(payload) == 0 {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "mqtt: empty payload")
	}

	packetType := payload[0] >> 4
	flags := payload[0] & 0x0f
	if !isKnownType(packetType) {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "mqtt: unknown packet type")
	}

	remLen, hdrLen, ok := decodeVarint(payload, 1)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "mqtt: malformed remaining length")
	}

	info := &Info{PacketType: packetType, Flags: flags, RemainingLength: remLen}
	info.base.Stamp(param)

	body := payload[hdrLen:]
	info.PacketID = extractPacketID(packetType, flags, body)

	switch packetType {
	case typeConnect, typePublish, typeSubscribe, typeUnsubscribe, typePingReq:
		info.msgType = l7proto.MsgRequest
	case typeConnAck, typePubAck, typeSubAck, typeUnsubAck, typePingResp:
		info.msgType = l7proto.MsgResponse
		info.base.Status = l7proto.StatusOk
	default:
		info.msgType = l7proto.MsgOther
	}

	return []l7proto.Info{info}, nil
}

func isKnownType(t byte) bool {
	return t >= typeConnect && t <= typeDisconnect
}

// decodeVarint decodes the MQTT remaining-length field starting at off,
// returning the value, the total fixed-header length (1 type/flags byte
// plus the varint's own width), and ok=false on a malformed or truncated
// (more than 4 continuation bytes) encoding.
func decodeVarint(b []byte, off int) (value uint32, headerLen int, ok bool) {
	var multiplier uint32 = 1
	pos := off
	for i := 0; i < 4; i++ {
		if pos >= len(b) {
			return 0, 0, false
		}
		byt := b[pos]
		value += uint32(byt&0x7f) * multiplier
		pos++
		if byt&0x80 == 0 {
			return value, pos, true
		}
		multiplier *= 128
	}
	return 0, 0, false
}

// extractPacketID returns the packet id for the packet types that carry
// one, or 0 for those that don't (or for PUBLISH at QoS 0, which carries
// none).
func extractPacketID(packetType, flags byte, body []byte) uint16 {
	switch packetType {
	case typePubAck, typePubRec, typePubRel, typePubComp, typeSubAck, typeUnsubAck:
		if len(body) < 2 {
			return 0
		}
		return uint16(body[0])<<8 | uint16(body[1])
	case typeSubscribe, typeUnsubscribe:
		if len(body) < 2 {
			return 0
		}
		return uint16(body[0])<<8 | uint16(body[1])
	case typePublish:
		qos := (flags >> 1) & 0x03
		if qos == 0 {
			return 0
		}
		if len(body) < 2 {
			return 0
		}
		topicLen := int(body[0])<<8 | int(body[1])
		idOff := 2 + topicLen
		if idOff+2 > len(body) {
			return 0
		}
		return uint16(body[idOff])<<8 | uint16(body[idOff+1])
	default:
		return 0
	}
}
