// Package mysql implements the MySQL client/server protocol parser:
// multi-packet header framing, greeting/request/response body decoding, and
// the ASCII-heuristic identification used on flows not yet confirmed MySQL.
package mysql

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
	"github.com/netobserve/l7agent/wire"
)

// Wire constants.
const (
	headerLen = 4

	commandQuit byte = 0x01
	commandUseDB byte = 0x02
	commandQuery byte = 0x03
	commandShowFields byte = 0x04

	responseOK byte = 0x00
	responseEOF byte = 0xfe
	responseErr byte = 0xff

	protocolVersion10 byte = 10

	sqlStateMarker byte = '#'
	sqlStateLen = 5 // length of the state digits alone, not counting the '#' marker
)

// checkVersionRegex matches the leading digits.digits... of a server version
// string, e.g. "5.7.28" or "8.0.26-log". Compiled once at package init, not
// per CheckPayload call.
var checkVersionRegex = regexp.MustCompile(`^[0-9.]{3,}`)

// Info is MysqlInfo: the fields of one MySQL half-transaction.
type Info struct {
	base l7proto.Base

	ProtocolVersion uint8
	ServerVersion   string
	ServerThreadID  uint32

	Command byte
	Context string

	ResponseCode byte
	ErrorCode    uint16
	AffectedRows uint64
	ErrorMessage string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol { return l7proto.MySQL }
func (i *Info) SessionID() uint32 { return 0 }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool { return i.sent }
func (i *Info) Base() *l7proto.Base { return &i.base }

// Merge folds a response record into a request record: response
// fields overwrite the request's response-side fields; Base timestamps and
// status follow MergeBase. Idempotent: merging the same response twice
// yields the same result because it's a plain overwrite, not an
// accumulation.
func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	i.ResponseCode = o.ResponseCode
	i.ErrorCode = o.ErrorCode
	i.AffectedRows = o.AffectedRows
	i.ErrorMessage = o.ErrorMessage
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateful MySQL parser instance registered per flow.
type Parser struct {
	// identified flips to true once a greeting or request has been
	// accepted, and gates whether a mid-stream (sequence != 0) frame may be
	// classified as a Response before a Request/Greeting has been seen on
	// this flow.
	identified bool

	// last is the most recently decoded header, cached across a
	// CheckPayload -> ParsePayload pair on the same payload.
	last      header
	lastValid bool
}

var _ registry.Parser = (*Parser)(nil)

// New constructs a fresh, empty MySQL parser.
func New() registry.Parser {
	return &Parser{}
}

func (p *Parser) Protocol() l7proto.Protocol { return l7proto.MySQL }
func (p *Parser) ParsableOnTCP() bool { return true }
func (p *Parser) ParsableOnUDP() bool { return false }
func (p *Parser) SetParseConfig(*config.Snapshot) {}

func (p *Parser) Reset() {
	p.identified = false
	p.lastValid = false
	p.last = header{}
}

// header is the decoded 4-byte MySQL packet header:
// 3 bytes little-endian body length, 1 byte sequence number.
type header struct {
	length uint32
	number byte
}

const maxHeaderRecursionDepth = 4

// decodeHeader walks concatenated frames in payload looking for the first
// one that is classifiable: an OK/ERR/EOF response code, or sequence number
// 0 (a request or greeting). Returns the byte offset of that frame's body
// and ok=true, or ok=false if none is found.
func decodeHeader(payload []byte) (off int, number byte, ok bool) {
	return decodeHeaderAt(payload, 0, 0, maxHeaderRecursionDepth)
}

func decodeHeaderAt(payload []byte, base, relOff, depthLeft int) (int, byte, bool) {
	if depthLeft <= 0 {
		return 0, 0, false
	}
	frame := payload[relOff:]
	if len(frame) < 5 {
		return 0, 0, false
	}
	length, ok := wire.U24LE(frame, 0)
	if !ok {
		return 0, 0, false
	}
	number, ok := wire.Byte(frame, 3)
	if !ok {
		return 0, 0, false
	}
	bodyOffsetInFrame := headerLen
	respCode, hasRespCode := wire.Byte(frame, bodyOffsetInFrame)

	if number == 0 || (hasRespCode && (respCode == responseOK || respCode == responseErr || respCode == responseEOF)) {
		return base + relOff + headerLen, number, true
	}

	nextRel := relOff + headerLen + int(length)
	if nextRel >= len(payload) {
		return 0, 0, false
	}
	return decodeHeaderAt(payload, base, nextRel, depthLeft-1)
}

// role is the classification of a decoded frame.
type role int

const (
	roleReject role = iota
	roleGreeting
	roleRequest
	roleResponse
)

func classify(dir l7proto.Direction, number byte, alreadyMySQL bool, body []byte) role {
	if number != 0 && !alreadyMySQL {
		return roleReject
	}
	switch dir {
	case l7proto.ServerToClient:
		if number == 0 {
			if isValidGreeting(body) {
				return roleGreeting
			}
			return roleReject
		}
		return roleResponse
	case l7proto.ClientToServer:
		if number == 0 {
			return roleRequest
		}
	}
	return roleReject
}

// isValidGreeting requires the protocol version byte to equal 10 and a
// non-empty NUL-terminated server version string to follow it, per the
// handshake packet layout. A zero-sequence server frame failing either
// check is not a greeting.
func isValidGreeting(body []byte) bool {
	if len(body) < 1 || body[0] != protocolVersion10 {
		return false
	}
	version, _, ok := wire.NulString(body, 1)
	return ok && version != ""
}

// CheckPayload is the MySQL identification heuristic. It decodes the
// header and requires sequence 0 plus a fully-contained frame before
// inspecting the body's leading byte:
// - QUERY (0x03): accept iff the remainder decodes as pure ASCII.
// - [0x08, 0x14]: accept iff up to 8 bytes match ^[0-9.]{3,}.
// - anything else: reject.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	p.lastValid = false
	if param.L4 != l7proto.TCP {
		return false
	}

	off, number, ok := decodeHeader(payload)
	if !ok || number != 0 {
		return false
	}

	bodyLen, lenOK := wire.U24LE(payload, off-headerLen)
	if !lenOK || off+int(bodyLen) > len(payload) {
		return false
	}

	first, ok := wire.Byte(payload, off)
	if !ok {
		return false
	}

	p.last = header{length: bodyLen, number: number}
	p.lastValid = true

	switch {
	case first == commandQuery:
		return isASCII(mysqlString(payload[off+1:]))
	case first >= 0x08 && first <= 0x14:
		end := off + 1 + 8
		if end > len(payload) {
			end = len(payload)
		}
		s := mysqlString(payload[off+1 : end])
		return checkVersionRegex.MatchString(s)
	default:
		return false
	}
}

// ParsePayload implements the full greeting/request/response state machine.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}

	off, number, ok := decodeHeader(payload)
	if !ok {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "mysql: no classifiable frame header")
	}

	body := payload[off:]

	r := classify(param.Direction, number, p.identified, body)
	if r == roleReject {
		return nil, errors.Wrap(l7proto.ErrParseFailed, "mysql: unclassifiable frame")
	}

	info := &Info{}
	info.base.Stamp(param)

	var err error
	switch r {
	case roleGreeting:
		err = parseGreeting(info, body)
		info.msgType = l7proto.MsgOther
	case roleRequest:
		err = parseRequest(info, body)
		info.msgType = l7proto.MsgRequest
	case roleResponse:
		err = parseResponse(info, body)
		info.msgType = l7proto.MsgResponse
	}
	if err != nil {
		return nil, err
	}

	p.identified = true
	return []l7proto.Info{info}, nil
}

// parseGreeting decodes the server greeting body. classify already gated
// entry here on isValidGreeting, but the protocol version and non-empty
// version string are re-checked so this function is safe to call on its
// own.
func parseGreeting(info *Info, body []byte) error {
	const protocolVersionLen = 1
	if len(body) < protocolVersionLen {
		return errors.Wrap(l7proto.ErrParseFailed, "mysql: greeting too short for protocol version")
	}
	if body[0] != protocolVersion10 {
		return errors.Wrapf(l7proto.ErrParseFailed, "mysql: unsupported protocol version %d", body[0])
	}
	info.ProtocolVersion = body[0]

	version, nulPos, ok := wire.NulString(body, 1)
	if !ok || version == "" {
		return errors.Wrap(l7proto.ErrParseFailed, "mysql: greeting missing non-empty NUL-terminated server version")
	}
	info.ServerVersion = version

	// The thread id (connection id) immediately follows the NUL-terminated
	// server version string. The filler byte in the real handshake packet
	// comes later, after the 8-byte auth-plugin-data, not here.
	threadIDOffset := nulPos + 1
	threadID, ok := wire.U32LE(body, threadIDOffset)
	if !ok {
		return errors.Wrap(l7proto.ErrParseFailed, "mysql: greeting too short for server thread id")
	}
	info.ServerThreadID = threadID
	return nil
}

// parseRequest decodes a client request body.
func parseRequest(info *Info, body []byte) error {
	if len(body) < 1 {
		return errors.Wrap(l7proto.ErrParseFailed, "mysql: request body missing command byte")
	}
	info.Command = body[0]
	switch info.Command {
	case commandQuit, commandShowFields:
		info.Context = ""
	case commandUseDB, commandQuery:
		info.Context = mysqlString(body[1:])
	default:
		return errors.Wrapf(l7proto.ErrParseFailed, "mysql: unsupported command 0x%02x", info.Command)
	}
	return nil
}

// parseResponse decodes a server response body.
func parseResponse(info *Info, body []byte) error {
	if len(body) < 1 {
		return errors.Wrap(l7proto.ErrParseFailed, "mysql: response body missing response code")
	}
	info.ResponseCode = body[0]
	rest := body[1:]

	switch info.ResponseCode {
	case responseOK:
		info.base.Status = l7proto.StatusOk
		info.AffectedRows = decodeLenEncInt(rest)
	case responseErr:
		if len(rest) >= 2 {
			code, _ := wire.U16LE(rest, 0)
			info.ErrorCode = code
		}
		info.base.Status = statusForCode(info.ErrorCode)

		msgOffset := 2
		if len(rest) > 2 && rest[2] == sqlStateMarker && len(rest) >= 2+1+sqlStateLen {
			msgOffset = 2 + 1 + sqlStateLen
		}
		if msgOffset <= len(rest) {
			info.ErrorMessage = string(rest[msgOffset:])
		}
	default:
		// Intermediate frame (e.g. column metadata); no fields updated.
	}
	return nil
}

// decodeLenEncInt decodes MySQL's length-encoded integer. Returns 0
// on insufficient bytes.
func decodeLenEncInt(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	v := b[0]
	switch {
	case v < 0xfb:
		return uint64(v)
	case v == 0xfc:
		n, ok := wire.U16LE(b, 1)
		if !ok {
			return 0
		}
		return uint64(n)
	case v == 0xfd:
		n, ok := wire.U24LE(b, 1)
		if !ok {
			return 0
		}
		return uint64(n)
	case v == 0xfe:
		n, ok := wire.U64LE(b, 1)
		if !ok {
			return 0
		}
		return n
	default:
		return 0
	}
}

// statusForCode applies the status rule: 0 -> Ok, [2000,2999] ->
// ClientError, else ServerError.
func statusForCode(code uint16) l7proto.Status {
	switch {
	case code == 0:
		return l7proto.StatusOk
	case code >= 2000 && code <= 2999:
		return l7proto.StatusClientError
	default:
		return l7proto.StatusServerError
	}
}

// mysqlString applies the robust string decode rule: MySQL 8.0.26
// prefixes some strings with 0x00 0x01; skip them before lossy UTF-8
// decoding. Invalid sequences are replaced, never failed.
func mysqlString(b []byte) string {
	if len(b) > 2 && b[0] == 0x00 && b[1] == 0x01 {
		b = b[2:]
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
