// Package postgres implements a minimal PostgreSQL wire protocol parser:
// startup-packet and SSLRequest detection on first contact, then the
// tagged message stream (one-byte type plus 4-byte big-endian length) for
// every payload after the connection is established.
package postgres

import (
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/wire"
)

const (
	startupProtocolVersion uint32 = 0x00030000
	sslRequestCode         uint32 = 0x04d2162f

	maxMessageLen = 1 << 20
)

// knownFrontendTypes and knownBackendTypes are the single-byte message
// tags this parser recognizes once a connection is past the startup phase.
var (
	knownFrontendTypes = map[byte]string{
		'Q': "Query", 'P': "Parse", 'B': "Bind", 'E': "Execute",
		'D': "Describe", 'C': "Close", 'S': "Sync", 'X': "Terminate",
		'p': "PasswordMessage", 'F': "FunctionCall", 'H': "Flush", 'd': "CopyData",
	}
	knownBackendTypes = map[byte]string{
		'R': "Authentication", 'S': "ParameterStatus", 'K': "BackendKeyData",
		'Z': "ReadyForQuery", 'T': "RowDescription", 'D': "DataRow",
		'C': "CommandComplete", 'E': "ErrorResponse", 'N': "NoticeResponse",
		'1': "ParseComplete", '2': "BindComplete", 'n': "NoData", 'G': "CopyInResponse",
	}
)

// Info is PostgresInfo: one startup/SSL negotiation or tagged message.
type Info struct {
	base l7proto.Base

	IsStartup    bool
	IsSSLRequest bool
	MessageTag   byte
	MessageName  string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.Postgres }
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
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateless Postgres parser instance registered per flow.
type Parser struct{}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol          { return l7proto.Postgres }
func (p *Parser) ParsableOnTCP() bool                 { return true }
func (p *Parser) ParsableOnUDP() bool                 { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot) {}
func (p *Parser) Reset()                              {}

// CheckPayload accepts a startup packet, an SSLRequest, or a tagged message
// whose type byte is one this parser knows for the observed direction and
// whose declared length is plausible.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP {
		return false
	}
	if isStartupLike(payload) {
		return true
	}
	if len(payload) < 5 {
		return false
	}
	types := knownBackendTypes
	if param.Direction == l7proto.ClientToServer {
		types = knownFrontendTypes
	}
	if _, known := types[payload[0]]; !known {
		return false
	}
	msgLen, ok := wire.U32BE(payload, 1)
	if !ok || msgLen < 4 || msgLen > maxMessageLen {
		return false
	}
	return true
}

func isStartupLike(payload []byte) bool {
	length, ok := wire.U32BE(payload, 0)
	if !ok || length < 8 || length > maxMessageLen {
		return false
	}
	code, ok := wire.U32BE(payload, 4)
	if !ok {
		return false
	}
	return code == startupProtocolVersion || code == sslRequestCode
}

// ParsePayload classifies the payload the same way CheckPayload did and
// extracts the message tag, or the startup/SSL flavor.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}

	info := &Info{}
	info.base.Stamp(param)

	if isStartupLike(payload) {
		code, _ := wire.U32BE(payload, 4)
		info.IsStartup = code == startupProtocolVersion
		info.IsSSLRequest = code == sslRequestCode
		info.msgType = l7proto.MsgRequest
		return []l7proto.Info{info}, nil
	}

	if len(payload) < 5 {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "postgres: short message")
	}

	info.MessageTag = payload[0]
	if param.Direction == l7proto.ClientToServer {
		info.MessageName = knownFrontendTypes[info.MessageTag]
		info.msgType = l7proto.MsgRequest
	} else {
		info.MessageName = knownBackendTypes[info.MessageTag]
		info.msgType = l7proto.MsgResponse
		info.base.Status = statusForTag(info.MessageTag)
	}
	if info.MessageName == "" {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "postgres: unrecognized message tag")
	}

	return []l7proto.Info{info}, nil
}

func statusForTag(tag byte) l7proto.Status {
	if tag == 'E' {
		return l7proto.StatusServerError
	}
	return l7proto.StatusOk
}
