// Package l7proto defines the shared vocabulary of the protocol-dispatch
// layer: the L7Protocol enum and its fast-reject bitmap, ParseParam, and the
// L7ProtocolInfo contract that every per-protocol parser produces.
package l7proto

import "fmt"

// Protocol is the persistent, cross-version discriminant for an application
// protocol. Values are fixed forever once assigned (collector compatibility)
// and MUST stay <= 127 so every protocol fits in a Bitmap.
type Protocol uint8

const (
	Unknown Protocol = 0

	HTTP1    Protocol = 20
	HTTP2    Protocol = 21
	HTTP1TLS Protocol = 22
	HTTP2TLS Protocol = 23

	Dubbo Protocol = 40

	MySQL    Protocol = 60
	Postgres Protocol = 61

	Redis Protocol = 80

	Kafka Protocol = 100
	MQTT  Protocol = 101

	DNS Protocol = 120
)

const maxProtocol = 127

func (p Protocol) String() string {
	switch p {
	case Unknown:
		return "unknown"
	case HTTP1:
		return "http1"
	case HTTP2:
		return "http2"
	case HTTP1TLS:
		return "http1-tls"
	case HTTP2TLS:
		return "http2-tls"
	case Dubbo:
		return "dubbo"
	case MySQL:
		return "mysql"
	case Postgres:
		return "postgres"
	case Redis:
		return "redis"
	case Kafka:
		return "kafka"
	case MQTT:
		return "mqtt"
	case DNS:
		return "dns"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// L4Protocol is the transport the payload rode in on.
type L4Protocol uint8

const (
	L4Unknown L4Protocol = iota
	TCP
	UDP
)

// Direction is the polarity of a captured payload relative to the
// connection initiator, as classified by the (external) flow tracker.
type Direction uint8

const (
	ClientToServer Direction = iota
	ServerToClient
)

// MessageType classifies a single L7ProtocolInfo record.
type MessageType uint8

const (
	MsgOther MessageType = iota
	MsgRequest
	MsgResponse
	MsgSession
)

// Status is the protocol-agnostic outcome classification of a response.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusOk
	StatusClientError
	StatusServerError
	StatusTimeout
)
