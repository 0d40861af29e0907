// Package dns implements the DNS parser. Decoding is delegated to
// gopacket/layers.DNS.
package dns

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
)

// Info is DnsInfo: one DNS query or response message.
type Info struct {
	base l7proto.Base

	TransactionID uint16
	QR            bool
	OpCode        layers.DNSOpCode
	ResponseCode  layers.DNSResponseCode

	Questions []string
	Answers   []string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.DNS }
func (i *Info) SessionID() uint32                { return uint32(i.TransactionID) }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	i.ResponseCode = o.ResponseCode
	i.Answers = o.Answers
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateless DNS parser instance registered per flow. DNS
// carries no framing state across messages, so CheckPayload never caches
// anything on the receiver.
type Parser struct{}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.DNS }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return true }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}
func (p *Parser) Reset()                              {}

// CheckPayload requires the message to fully decode as a DNS packet and its
// header counts to be internally consistent: a query (QR=0) carries no
// answers, and a response (QR=1) carries at least one question or answer.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	var dns layers.DNS
	if err := dns.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return false
	}
	if !dns.QR && dns.ANCount > 0 {
		return false
	}
	if dns.QR && dns.QDCount == 0 && dns.ANCount == 0 {
		return false
	}
	return true
}

// ParsePayload decodes the message via layers.DNS and extracts the question
// and answer names this system logs.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	var msg layers.DNS
	if err := msg.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "dns: "+err.Error())
	}

	info := &Info{
		TransactionID: msg.ID,
		QR:            msg.QR,
		OpCode:        msg.OpCode,
		ResponseCode:  msg.ResponseCode,
	}
	info.base.Stamp(param)

	for _, q := range msg.Questions {
		info.Questions = append(info.Questions, string(q.Name))
	}
	for _, a := range msg.Answers {
		info.Answers = append(info.Answers, string(a.Name))
	}

	if msg.QR {
		info.msgType = l7proto.MsgResponse
		info.base.Status = statusForRcode(msg.ResponseCode)
	} else {
		info.msgType = l7proto.MsgRequest
	}

	return []l7proto.Info{info}, nil
}

func statusForRcode(code layers.DNSResponseCode) l7proto.Status {
	if code == layers.DNSResponseCodeNoErr {
		return l7proto.StatusOk
	}
	return l7proto.StatusServerError
}
