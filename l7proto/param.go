package l7proto

import (
	"net"
	"time"
)

// CaptureSource is the kind of collaborator that handed us this payload.
type CaptureSource uint8

const (
	CaptureNone CaptureSource = iota
	CaptureKernelUprobeTLS
	CaptureKernelKprobe
	CaptureOther
)

// Extra carries capture-source-specific hints. IsReqEnd/IsRespEnd only ever
// apply to the HTTP/2 uprobe capture source.
type Extra struct {
	IsTLS     bool
	IsReqEnd  bool
	IsRespEnd bool
}

// ParseParam is copied per payload: it is the value-typed context a
// parser needs to identify and parse one delivery, plus dispatch metadata
// (direction, capture source, an optional in-kernel protocol hint).
type ParseParam struct {
	L4        L4Protocol
	SrcIP     net.IP
	SrcPort   uint16
	DstIP     net.IP
	DstPort   uint16
	Direction Direction

	Source CaptureSource
	Extra  Extra

	// TimeMicros is a monotonic microsecond timestamp.
	TimeMicros int64

	// KernelHint is the protocol the in-kernel classifier believes this
	// flow carries, if any. It reorders identification but is never
	// trusted outright — CheckPayload still gates acceptance.
	KernelHint Protocol
}

// Time returns TimeMicros as a time.Time for convenience in record
// normalization and bucket indexing.
func (p *ParseParam) Time() time.Time {
	return time.UnixMicro(p.TimeMicros)
}
