// Package dubbo implements the Apache Dubbo RPC protocol parser: the fixed
// 16-byte header plus request id pairing. Body decoding is gated by the
// enabled serializer set; bodies from serializers this system doesn't
// decode still produce a header-derived record.
package dubbo

import (
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/wire"
)

const (
	magic0 byte = 0xda
	magic1 byte = 0xbb

	headerLen = 16

	flagRequestBit byte = 0x80
	flagTwoWayBit  byte = 0x40
	flagEventBit   byte = 0x20
	serializerMask byte = 0x1f

	statusOK byte = 20
)

// Info is DubboInfo: one Dubbo request or response frame.
type Info struct {
	base l7proto.Base

	RequestID  uint64
	IsRequest  bool
	IsTwoWay   bool
	IsEvent    bool
	Serializer config.DubboSerializer
	Status     byte
	BodyLength uint32

	// DubboVersion, ServicePath, ServiceVersion and MethodName are decoded
	// from the Hessian2 request body when the Hessian2 serializer is
	// enabled; they are left empty for any other serializer, or when the
	// body doesn't decode as well-formed Hessian2 strings.
	DubboVersion   string
	ServicePath    string
	ServiceVersion string
	MethodName     string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.Dubbo }
func (i *Info) SessionID() uint32                { return uint32(i.RequestID) }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	i.Status = o.Status
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateless Dubbo parser instance registered per flow.
type Parser struct {
	cfg *config.Snapshot
}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.Dubbo }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) { p.cfg = cfg }
func (p *Parser) Reset()                              {}

// CheckPayload requires the 2-byte magic, a fully contained 16-byte header,
// and a body length that fits within payload.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP {
		return false
	}
	if len(payload) < headerLen {
		return false
	}
	if payload[0] != magic0 || payload[1] != magic1 {
		return false
	}
	bodyLen, ok := wire.U32BE(payload, 12)
	return ok && uint64(bodyLen) <= uint64(len(payload)-headerLen)
}

// ParsePayload decodes the fixed header, then, for a request body encoded
// with an enabled serializer, decodes what that serializer supports.
// Hessian2 is the only body format this parser decodes today; FastJSON and
// Protobuf bodies (and any serializer the snapshot doesn't enable) still
// produce a header-derived record with the body fields left empty.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}
	if len(payload) < headerLen || payload[0] != magic0 || payload[1] != magic1 {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "dubbo: missing magic or short header")
	}

	flags := payload[2]
	status := payload[3]
	reqID, ok := wire.U64BE(payload, 4)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "dubbo: truncated request id")
	}
	bodyLen, ok := wire.U32BE(payload, 12)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "dubbo: truncated body length")
	}

	info := &Info{
		RequestID:  reqID,
		IsRequest:  flags&flagRequestBit != 0,
		IsTwoWay:   flags&flagTwoWayBit != 0,
		IsEvent:    flags&flagEventBit != 0,
		Serializer: config.DubboSerializer(flags & serializerMask),
		Status:     status,
		BodyLength: bodyLen,
	}
	info.base.Stamp(param)

	if info.IsRequest {
		info.msgType = l7proto.MsgRequest
		if info.Serializer == config.Hessian2 && p.cfg.DubboEnabled(config.Hessian2) {
			body := payload[headerLen:]
			if uint32(len(body)) > bodyLen {
				body = body[:bodyLen]
			}
			decodeHessian2Request(info, body)
		}
	} else {
		info.msgType = l7proto.MsgResponse
		info.base.Status = statusForCode(status)
	}

	return []l7proto.Info{info}, nil
}

// decodeHessian2Request decodes the four leading Hessian2 string arguments
// of a Dubbo request body: dubbo version, service path, service version,
// and method name, in that order. A decode failure on any of them leaves
// the later fields empty rather than failing the whole payload — the
// header-derived fields are still valid even if the body doesn't decode.
func decodeHessian2Request(info *Info, body []byte) {
	off := 0
	ok := false
	if info.DubboVersion, off, ok = decodeHessian2String(body, off); !ok {
		return
	}
	if info.ServicePath, off, ok = decodeHessian2String(body, off); !ok {
		return
	}
	if info.ServiceVersion, off, ok = decodeHessian2String(body, off); !ok {
		return
	}
	info.MethodName, _, _ = decodeHessian2String(body, off)
}

// decodeHessian2String reads one Hessian 2.0 UTF-8 string starting at
// offset off in b: either a short string (single length byte 0x00-0x1f
// followed immediately by that many bytes) or the 'S' tag (2-byte
// big-endian length, then that many bytes). Other tags (null, typed
// objects, binary) are not needed for the leading argument list and are
// reported as a decode failure.
func decodeHessian2String(b []byte, off int) (string, int, bool) {
	if off >= len(b) {
		return "", off, false
	}
	tag := b[off]
	switch {
	case tag <= 0x1f:
		n := int(tag)
		start := off + 1
		if start+n > len(b) {
			return "", off, false
		}
		return string(b[start : start+n]), start + n, true
	case tag == 'S':
		if off+3 > len(b) {
			return "", off, false
		}
		n := int(b[off+1])<<8 | int(b[off+2])
		start := off + 3
		if start+n > len(b) {
			return "", off, false
		}
		return string(b[start : start+n]), start + n, true
	default:
		return "", off, false
	}
}

func statusForCode(code byte) l7proto.Status {
	if code == statusOK {
		return l7proto.StatusOk
	}
	return l7proto.StatusServerError
}
