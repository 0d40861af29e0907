// Package normalize converts a parser's per-protocol Info (merged session or
// half-session) into the single flat record shape the downstream collector
// consumes. The mapping is one-to-one with no field loss; the
// protocol-specific payload is carried as an interface{}, mirroring the
// teacher's own ParsedNetworkContent pattern for "one interface, many
// concrete payload shapes."
package normalize

import (
	"net"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/dns"
	"github.com/netobserve/l7agent/protocol/dubbo"
	"github.com/netobserve/l7agent/protocol/http1"
	"github.com/netobserve/l7agent/protocol/http2"
	"github.com/netobserve/l7agent/protocol/kafka"
	"github.com/netobserve/l7agent/protocol/mqtt"
	"github.com/netobserve/l7agent/protocol/mysql"
	"github.com/netobserve/l7agent/protocol/postgres"
	"github.com/netobserve/l7agent/protocol/redis"
	"github.com/netobserve/l7agent/slices"
)

// Record is the flat, wire-agnostic shape handed to the output encoder. The
// exact bytes sent to the collector are that encoder's concern; this package
// stops at the Go struct.
type Record struct {
	SrcIP   net.IP
	SrcPort uint16
	DstIP   net.IP
	DstPort uint16
	L4      l7proto.L4Protocol

	Protocol    l7proto.Protocol
	MessageType l7proto.MessageType
	Status      l7proto.Status

	Code       int64
	RTTMicros  int64
	VersionTag string

	Detail interface{}
}

// From builds a Record from one emitted Info and the ParseParam of the
// payload that produced it (for half-sessions, the payload that started
// the pending entry; for merges, the request side's original param).
func From(info l7proto.Info, param *l7proto.ParseParam) Record {
	base := info.Base()
	r := Record{
		SrcIP:       param.SrcIP,
		SrcPort:     param.SrcPort,
		DstIP:       param.DstIP,
		DstPort:     param.DstPort,
		L4:          param.L4,
		Protocol:    info.Protocol(),
		MessageType: info.MessageType(),
		Status:      base.Status,
		RTTMicros:   base.RTTMicros(),
		Detail:      info,
	}
	r.Code, r.VersionTag = codeAndVersion(info)
	return r
}

// FromAll builds one Record per emission, in order, all sharing param. This
// fits a single payload whose dispatch produced more than one Info (HTTP/2,
// which emits one Info per HEADERS frame in the payload).
func FromAll(infos []l7proto.Info, param *l7proto.ParseParam) []Record {
	return slices.Map(infos, func(info l7proto.Info) Record {
		return From(info, param)
	})
}

// codeAndVersion extracts the protocol-specific numeric code and version
// tag from the concrete Info variant. Protocols with no natural analogue of
// either leave them zero/empty.
func codeAndVersion(info l7proto.Info) (code int64, version string) {
	switch v := info.(type) {
	case *mysql.Info:
		if v.ErrorCode != 0 {
			return int64(v.ErrorCode), v.ServerVersion
		}
		return int64(v.ResponseCode), v.ServerVersion
	case *http1.Info:
		return int64(v.StatusCode), httpVersionTag(v.ProtoMajor, v.ProtoMinor)
	case *http2.Info:
		code, _ := parseStatusCode(v.Status)
		return code, "HTTP/2"
	case *dns.Info:
		return int64(v.ResponseCode), ""
	case *dubbo.Info:
		return int64(v.Status), ""
	case *kafka.Info:
		return int64(v.APIKey), ""
	case *redis.Info:
		if v.IsError {
			return 1, ""
		}
		return 0, ""
	case *postgres.Info:
		return int64(v.MessageTag), ""
	case *mqtt.Info:
		return int64(v.PacketType), ""
	default:
		return 0, ""
	}
}

func httpVersionTag(major, minor int) string {
	switch {
	case major == 1 && minor == 1:
		return "HTTP/1.1"
	case major == 1 && minor == 0:
		return "HTTP/1.0"
	default:
		return ""
	}
}

func parseStatusCode(status string) (int64, bool) {
	if len(status) != 3 {
		return 0, false
	}
	var n int64
	for _, c := range status {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
