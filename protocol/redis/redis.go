// Package redis implements the RESP (REdis Serialization Protocol) parser:
// the RESP2 element types (*, +, -, :, $), which RESP3 also uses; the
// RESP3-only types are not recognized. Enough to identify a complete
// top-level element and extract
// the command name from a multi-bulk request or the reply shape from a
// response.
package redis

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
)

const crlf = "\r\n"

// Info is RedisInfo: one RESP request or response element.
type Info struct {
	base l7proto.Base

	Command string
	Args    []string

	ReplyType byte
	Reply     string
	IsError   bool

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.Redis }
func (i *Info) SessionID() uint32                { return 0 }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	i.ReplyType = o.ReplyType
	i.Reply = o.Reply
	i.IsError = o.IsError
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateless RESP parser instance registered per flow. RESP
// carries no cross-message framing state: every element is self-delimiting.
type Parser struct{}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.Redis }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}
func (p *Parser) Reset()                              {}

// CheckPayload requires a recognized leading type byte and a fully present
// top-level element (the element's own terminating CRLF must already have
// arrived).
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP || len(payload) == 0 {
		return false
	}
	if !isRESPType(payload[0]) {
		return false
	}
	_, ok := readElement(payload, 0)
	return ok
}

// ParsePayload decodes the top-level element. Requests are conventionally a
// RESP array of bulk strings (the command and its arguments); a simple or
// bulk string arriving from the client is recorded as a single-element
// command with no arguments, and any other element type leaves Command
// empty. Responses keep their raw reply type and a best-effort
// flattened string form.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}
	if len(payload) == 0 || !isRESPType(payload[0]) {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "redis: not a RESP element")
	}

	el, ok := readElement(payload, 0)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "redis: incomplete element")
	}

	info := &Info{}
	info.base.Stamp(param)

	if param.Direction == l7proto.ClientToServer {
		info.msgType = l7proto.MsgRequest
		parts := flattenArray(el)
		if len(parts) > 0 {
			info.Command = parts[0]
			info.Args = parts[1:]
		}
	} else {
		info.msgType = l7proto.MsgResponse
		info.ReplyType = el.kind
		info.IsError = el.kind == '-'
		info.Reply = el.text
		if info.IsError {
			info.base.Status = l7proto.StatusServerError
		} else {
			info.base.Status = l7proto.StatusOk
		}
	}

	return []l7proto.Info{info}, nil
}

func isRESPType(b byte) bool {
	switch b {
	case '*', '+', '-', ':', '$':
		return true
	default:
		return false
	}
}

// element is one decoded RESP value, flat or array.
type element struct {
	kind     byte
	text     string
	children []element
	end      int // offset just past this element in the source slice
}

// readElement decodes one RESP value starting at off, returning ok=false if
// the value (or any nested value) is not yet fully present.
func readElement(b []byte, off int) (element, bool) {
	if off >= len(b) {
		return element{}, false
	}
	kind := b[off]
	switch kind {
	case '+', '-', ':':
		line, next, ok := readLine(b, off+1)
		if !ok {
			return element{}, false
		}
		return element{kind: kind, text: line, end: next}, true
	case '$':
		line, next, ok := readLine(b, off+1)
		if !ok {
			return element{}, false
		}
		n, convErr := parseInt(line)
		if convErr != nil {
			return element{}, false
		}
		if n < 0 {
			return element{kind: kind, end: next}, true
		}
		dataEnd := next + int(n)
		if dataEnd+2 > len(b) {
			return element{}, false
		}
		return element{kind: kind, text: string(b[next:dataEnd]), end: dataEnd + 2}, true
	case '*':
		line, next, ok := readLine(b, off+1)
		if !ok {
			return element{}, false
		}
		n, convErr := parseInt(line)
		if convErr != nil {
			return element{}, false
		}
		if n < 0 {
			return element{kind: kind, end: next}, true
		}
		children := make([]element, 0, n)
		pos := next
		for j := int64(0); j < n; j++ {
			child, ok := readElement(b, pos)
			if !ok {
				return element{}, false
			}
			children = append(children, child)
			pos = child.end
		}
		return element{kind: kind, children: children, end: pos}, true
	default:
		return element{}, false
	}
}

func readLine(b []byte, off int) (line string, next int, ok bool) {
	idx := bytes.Index(b[off:], []byte(crlf))
	if idx < 0 {
		return "", 0, false
	}
	return string(b[off : off+idx]), off + idx + 2, true
}

func parseInt(s string) (int64, error) {
	var neg bool
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	if s == "" {
		return 0, errors.New("redis: empty integer")
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("redis: non-digit in integer")
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// flattenArray returns the text of every child of a top-level array element,
// in order; a nested array or null bulk string contributes an empty string.
// A non-array simple or bulk string yields just its own text; any other
// non-array element yields nil.
func flattenArray(el element) []string {
	if el.kind != '*' {
		if el.kind == '+' || el.kind == '$' {
			return []string{el.text}
		}
		return nil
	}
	out := make([]string, 0, len(el.children))
	for _, c := range el.children {
		out = append(out, c.text)
	}
	return out
}
