// Package http1 implements the HTTP/1.x parser: request/status line
// detection on first contact with a flow, then full header parsing via
// net/http for every subsequent payload.
package http1

import (
	"bufio"
	"bytes"
	"net/http"
	"time"

	"github.com/google/martian/v3/har"
	"github.com/pkg/errors"

	"github.com/netobserve/l7agent/config"
	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/registry"
)

// Method/line-length bounds for request/status-line detection.
const (
	minSupportedHTTPMethodLength    = 3 // len("GET")
	maxHTTPRequestURILength         = 4000
	maxHTTPReasonPhraseLength       = 512
	minHTTPResponseStatusLineLength = 12 // len("HTTP/1.1 200")
)

// Sorted with more common methods near the front.
var supportedHTTPMethods = []string{
	"GET", "POST", "DELETE", "HEAD", "PUT", "PATCH", "CONNECT", "OPTIONS", "TRACE",
}

var supportedHTTPVersions = []string{"HTTP/1.1", "HTTP/1.0"}

// Info is HttpInfo: one HTTP/1 request or response half-transaction.
type Info struct {
	base l7proto.Base

	Method     string
	Path       string
	Host       string
	ProtoMajor int
	ProtoMinor int
	Header     http.Header

	StatusCode int

	ProxyClient string
	RequestID   string
	TraceID     string
	SpanID      string

	msgType l7proto.MessageType
	sent    bool
}

var _ l7proto.Info = (*Info)(nil)

func (i *Info) Protocol() l7proto.Protocol       { return l7proto.HTTP1 }
func (i *Info) SessionID() uint32                { return 0 }
func (i *Info) MessageType() l7proto.MessageType { return i.msgType }
func (i *Info) SkipSend() bool                   { return i.sent }
func (i *Info) Base() *l7proto.Base              { return &i.base }

// Merge folds a response into a request: status code and response headers
// overwrite the request's response-side view; the request-side fields
// (Method, Path, Host) are left untouched.
func (i *Info) Merge(other l7proto.Info) {
	o, ok := other.(*Info)
	if !ok {
		return
	}
	i.base.MergeBase(&o.base)
	i.StatusCode = o.StatusCode
	if o.Header != nil {
		i.Header = o.Header
	}
	if o.msgType == l7proto.MsgResponse {
		i.msgType = l7proto.MsgSession
	}
}

// Parser is the stateful HTTP/1 parser instance registered per flow.
type Parser struct {
	cfg *config.Snapshot
}

var _ registry.Parser = (*Parser)(nil)

func New() registry.Parser { return &Parser{} }

func (p *Parser) Protocol() l7proto.Protocol             { return l7proto.HTTP1 }
func (p *Parser) ParsableOnTCP() bool                    { return true }
func (p *Parser) ParsableOnUDP() bool                    { return false }
func (p *Parser) SetParseConfig(cfg *config.Snapshot)    { p.cfg = cfg }
func (p *Parser) Reset()                                 {}

// CheckPayload looks for a supported method token (client-to-server) or an
// HTTP version token (server-to-client) and validates the remainder of the
// line that follows it, collapsed to a single boolean since this contract
// has no "need more data" verdict.
func (p *Parser) CheckPayload(payload []byte, param *l7proto.ParseParam) bool {
	if param.L4 != l7proto.TCP {
		return false
	}
	switch param.Direction {
	case l7proto.ClientToServer:
		return checkRequestLine(payload)
	case l7proto.ServerToClient:
		return checkStatusLine(payload)
	default:
		return checkRequestLine(payload) || checkStatusLine(payload)
	}
}

func checkRequestLine(payload []byte) bool {
	if len(payload) < minSupportedHTTPMethodLength {
		return false
	}
	for _, m := range supportedHTTPMethods {
		if !bytes.HasPrefix(payload, []byte(m)) {
			continue
		}
		return hasValidHTTPRequestLine(payload[len(m):])
	}
	return false
}

func checkStatusLine(payload []byte) bool {
	if len(payload) < minHTTPResponseStatusLineLength {
		return false
	}
	for _, v := range supportedHTTPVersions {
		if !bytes.HasPrefix(payload, []byte(v)) {
			continue
		}
		return hasValidHTTPResponseStatusLine(payload[len(v):])
	}
	return false
}

// hasValidHTTPRequestLine checks for a well-formed Request-Line tail
// (RFC 2616 §5), starting right after the HTTP method.
func hasValidHTTPRequestLine(tail []byte) bool {
	if len(tail) == 0 || tail[0] != ' ' {
		return false
	}
	nextSP := bytes.IndexByte(tail[1:], ' ')
	if nextSP < 0 {
		return len(tail)-1 <= maxHTTPRequestURILength
	}
	nextSP++
	if nextSP == 1 {
		return false
	}
	rest := tail[nextSP+1:]
	if len(rest) < 10 {
		return false
	}
	return bytes.HasPrefix(rest, []byte("HTTP/1.1\r\n")) || bytes.HasPrefix(rest, []byte("HTTP/1.0\r\n"))
}

// hasValidHTTPResponseStatusLine checks for a well-formed Status-Line tail
// (RFC 2616 §6.1), starting right after the HTTP version.
func hasValidHTTPResponseStatusLine(tail []byte) bool {
	if len(tail) < 5 {
		return false
	}
	if tail[0] != ' ' || tail[4] != ' ' {
		return false
	}
	for _, b := range tail[1:4] {
		if b < '0' || b > '9' {
			return false
		}
	}
	if idx := bytes.Index(tail, []byte("\r\n")); idx >= 0 {
		return true
	}
	return len(tail)-4 <= maxHTTPReasonPhraseLength
}

// ParsePayload delegates header parsing to net/http, turning raw bytes
// straight into *http.Request/*http.Response.
func (p *Parser) ParsePayload(payload []byte, param *l7proto.ParseParam) ([]l7proto.Info, error) {
	if param.L4 != l7proto.TCP {
		return nil, errors.WithStack(l7proto.ErrInvalidL4Protocol)
	}

	info := &Info{}
	info.base.Stamp(param)

	r := bufio.NewReader(bytes.NewReader(payload))
	switch param.Direction {
	case l7proto.ClientToServer:
		req, err := http.ReadRequest(r)
		if err != nil {
			return nil, errors.Wrap(l7proto.ErrParseFailed, "http1: malformed request: "+err.Error())
		}
		info.Method = req.Method
		info.Path = req.URL.Path
		info.Host = req.Host
		info.ProtoMajor = req.ProtoMajor
		info.ProtoMinor = req.ProtoMinor
		info.Header = req.Header
		info.msgType = l7proto.MsgRequest
		p.extractHeaders(info, req.Header)
	case l7proto.ServerToClient:
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			return nil, errors.Wrap(l7proto.ErrParseFailed, "http1: malformed response: "+err.Error())
		}
		info.StatusCode = resp.StatusCode
		info.ProtoMajor = resp.ProtoMajor
		info.ProtoMinor = resp.ProtoMinor
		info.Header = resp.Header
		info.base.Status = statusForCode(resp.StatusCode)
		info.msgType = l7proto.MsgResponse
		p.extractHeaders(info, resp.Header)
	default:
		return nil, errors.Wrap(l7proto.ErrParseFailed, "http1: unknown direction")
	}

	return []l7proto.Info{info}, nil
}

func (p *Parser) extractHeaders(info *Info, h http.Header) {
	if p.cfg == nil {
		return
	}
	if k := p.cfg.HTTPLogProxyClientHeader; k != "" {
		info.ProxyClient = h.Get(k)
	}
	if k := p.cfg.HTTPLogXRequestIDHeader; k != "" {
		info.RequestID = h.Get(k)
	}
	if k := p.cfg.HTTPLogTraceIDHeader; k != "" {
		info.TraceID = h.Get(k)
	}
	if k := p.cfg.HTTPLogSpanIDHeader; k != "" {
		info.SpanID = h.Get(k)
	}
}

func statusForCode(code int) l7proto.Status {
	switch {
	case code >= 200 && code < 400:
		return l7proto.StatusOk
	case code >= 400 && code < 500:
		return l7proto.StatusClientError
	case code >= 500:
		return l7proto.StatusServerError
	default:
		return l7proto.StatusUnknown
	}
}

// ToHAREntry renders this half-transaction as a HAR entry for debug export
// tooling; it is never consulted on the hot path. Only the fields this
// parser actually captures are populated; body content is not tracked
// since this parser only extracts fields, never full bodies.
func (i *Info) ToHAREntry() *har.Entry {
	startedAt := time.UnixMicro(i.base.StartTimeMicros)

	headers := make([]har.Header, 0, len(i.Header))
	for name, values := range i.Header {
		for _, v := range values {
			headers = append(headers, har.Header{Name: name, Value: v})
		}
	}

	entry := &har.Entry{
		StartedDateTime: startedAt,
		Time:            float64(i.base.RTTMicros()) / 1000,
		Request: &har.Request{
			Method:      i.Method,
			URL:         i.Path,
			HTTPVersion: "HTTP/1.1",
			Headers:     headers,
		},
		Response: &har.Response{
			Status:      i.StatusCode,
			HTTPVersion: "HTTP/1.1",
		},
	}
	return entry
}
