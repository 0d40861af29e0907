// Package http2 implements the HTTP/2 parser: connection preface detection
// generalized to full frame decoding via golang.org/x/net/http2, with HPACK
// header recovery for HEADERS frames.
package http2

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
)

// connectionPreface is the 24-octet client connection preface: "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n".
var connectionPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// Info is HttpInfo for one HTTP/2 stream frame.
type Info struct {
	base l7proto.Base

	StreamID uint32
	FrameType http2.FrameType

	Method string
	Path   string
	Status string

	Headers map[string]string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.HTTP2 }
func (i *Info) SessionID() uint32                { return i.StreamID }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	if o.Status != "" {
		i.Status = o.Status
	}
	for k, v := range o.Headers {
		if i.Headers == nil {
			i.Headers = map[string]string{}
		}
		i.Headers[k] = v
	}
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateful HTTP/2 parser instance registered per flow. It
// keeps a decoder per direction since request and response header blocks
// each carry their own HPACK dynamic table.
type Parser struct {
	sawPreface bool

	reqDecoder  *hpack.Decoder
	respDecoder *hpack.Decoder
}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser {
	return &Parser{
		reqDecoder:  hpack.NewDecoder(4096, nil),
		respDecoder: hpack.NewDecoder(4096, nil),
	}
}

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.HTTP2 }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}

func (p *Parser) Reset() {
	p.sawPreface = false
	p.reqDecoder = hpack.NewDecoder(4096, nil)
	p.respDecoder = hpack.NewDecoder(4096, nil)
}

// CheckPayload accepts the connection preface on the client side, or
// (mid-connection, either side) a frame whose 9-byte header parses to a
// known frame type.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP {
		return false
	}
	if param.Direction == l7proto.ClientToServer && bytes.HasPrefix(payload, connectionPreface) {
		return true
	}
	return hasValidFrameHeader(payload)
}

func hasValidFrameHeader(payload []byte) bool {
	if len(payload) < 9 {
		return false
	}
	length := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
	frameType := http2.FrameType(payload[3])
	if frameType > http2.FrameContinuation {
		return false
	}
	return int(length)+9 <= len(payload)
}

// ParsePayload reads every complete frame in payload using http2.Framer,
// emitting one Info per HEADERS frame (the only frame type carrying fields
// this system logs) and skipping the rest after accounting for their
// length.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}

	body := payload
	if param.Direction == l7proto.ClientToServer && bytes.HasPrefix(body, connectionPreface) {
		p.sawPreface = true
		body = body[len(connectionPreface):]
		if len(body) == 0 {
			info := &Info{msgType: l7proto.MsgOther}
			info.base.Stamp(param)
			return []l7proto.Info{info}, nil
		}
	}

	framer := http2.NewFramer(io.Discard, bytes.NewReader(body))

	var out []l7proto.Info
	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			break
		}
		hf, ok := frame.(*http2.HeadersFrame)
		if !ok {
			continue
		}

		info := &Info{StreamID: hf.StreamID, FrameType: hf.Type(), Headers: map[string]string{}}
		info.base.Stamp(param)

		decoder := p.respDecoder
		if param.Direction == l7proto.ClientToServer {
			decoder = p.reqDecoder
		}
		hdrs, decErr := decoder.DecodeFull(hf.HeaderBlockFragment())
		if decErr != nil {
			return nil, errors.Wrap(l7proto.ErrParseFailed, "http2: hpack decode failed: "+decErr.Error())
		}
		for _, h := range hdrs {
			switch h.Name {
			case ":method":
				info.Method = h.Value
			case ":path":
				info.Path = h.Value
			case ":status":
				info.Status = h.Value
			default:
				info.Headers[h.Name] = h.Value
			}
		}

		if param.Direction == l7proto.ClientToServer {
			info.msgType = l7proto.MsgRequest
			// The uprobe capture source delivers a request's header and body
			// writes as separate payloads; IsReqEnd marks the one that
			// closes out the logical request. On every other capture
			// source a HEADERS frame is itself a complete unit.
			if param.Source == l7proto.CaptureKernelUprobeTLS && !param.Extra.IsReqEnd {
				info.msgType = l7proto.MsgOther
			}
		} else {
			info.msgType = l7proto.MsgResponse
			info.base.Status = statusForCode(info.Status)
			if param.Source == l7proto.CaptureKernelUprobeTLS && !param.Extra.IsRespEnd {
				info.msgType = l7proto.MsgOther
			}
		}
		out = append(out, info)
	}

	if len(out) == 0 {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "http2: no HEADERS frame in payload")
	}
	return out, nil
}

func statusForCode(status string) l7proto.Status {
	if len(status) != 3 {
		return l7proto.StatusUnknown
	}
	switch status[0] {
	case '2', '3':
		return l7proto.StatusOk
	case '4':
		return l7proto.StatusClientError
	case '5':
		return l7proto.StatusServerError
	default:
		return l7proto.StatusUnknown
	}
}
