// Package kafka implements the Kafka wire protocol parser: the 4-byte
// length-prefixed request header (API key, API version, correlation id,
// client id) that precedes every request, and the minimal correlation-id
// response envelope.
package kafka

import (
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/wire"
)

// maxKnownAPIKey is the highest assigned Kafka API key at the time this was
// written. Requests with a higher key are rejected during identification
// rather than chased into every future protocol revision.
const maxKnownAPIKey = 67

// Info is KafkaInfo: one Kafka request or response frame.
type Info struct {
	base l7proto.Base

	CorrelationID uint32
	APIKey        int16
	APIVersion    int16
	ClientID      string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.Kafka }
func (i *Info) SessionID() uint32                { return i.CorrelationID }
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

// Parser is the stateless Kafka parser instance registered per flow. Once a
// flow is pinned to Kafka, responses are identified purely by direction:
// Kafka's own response envelope carries no API key, so only the original
// request frame is fully decoded.
type Parser struct{}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.Kafka }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}
func (p *Parser) Reset()                              {}

// CheckPayload only fires on the client side: a 4-byte big-endian message
// size, fully contained, followed by an API key in the assigned range and a
// non-negative API version.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP || param.Direction != l7proto.ClientToServer {
		return false
	}
	size, ok := wire.U32BE(payload, 0)
	if !ok || int(size)+4 > len(payload) {
		return false
	}
	apiKey, ok := wire.U16BE(payload, 4)
	if !ok || int16(apiKey) < 0 || apiKey > maxKnownAPIKey {
		return false
	}
	apiVersion, ok := wire.U16BE(payload, 6)
	if !ok || int16(apiVersion) < 0 {
		return false
	}
	_, ok = wire.U32BE(payload, 8)
	return ok
}

// ParsePayload decodes the request header fields. Response frames (server
// direction) only carry the 4-byte correlation id after the size prefix;
// this parser extracts just that much from them.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}

	if param.Direction == l7proto.ServerToClient {
		correlationID, ok := wire.U32BE(payload, 4)
		if !ok {
			return nil, errors.Wrap(l7proto.ErrParseFailed, "kafka: truncated response envelope")
		}
		info := &Info{CorrelationID: correlationID, msgType: l7proto.MsgResponse}
		info.base.Stamp(param)
		info.base.Status = l7proto.StatusOk
		return []l7proto.Info{info}, nil
	}

	apiKey, ok := wire.U16BE(payload, 4)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "kafka: truncated api key")
	}
	apiVersion, ok := wire.U16BE(payload, 6)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "kafka: truncated api version")
	}
	correlationID, ok := wire.U32BE(payload, 8)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "kafka: truncated correlation id")
	}

	info := &Info{
		CorrelationID: correlationID,
		APIKey:        int16(apiKey),
		APIVersion:    int16(apiVersion),
		msgType:       l7proto.MsgRequest,
	}
	info.base.Stamp(param)

	clientIDLen, ok := wire.U16BE(payload, 12)
	if ok && int16(clientIDLen) >= 0 {
		if s, ok := wire.Slice(payload, 14, int(clientIDLen)); ok {
			info.ClientID = string(s)
		}
	}

	return []l7proto.Info{info}, nil
}
