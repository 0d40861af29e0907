package l7proto

// Info is the tagged-variant contract every per-protocol record (MysqlInfo,
// HttpInfo, DnsInfo,...) implements: one payload-shape per protocol,
// carrying the fields of one half-transaction plus timestamps.
type Info interface {
	// Protocol identifies which parser produced this record.
	Protocol() Protocol

	// SessionID is the protocol-level transaction id (HTTP/2 stream id,
	// DNS txid, Dubbo/Kafka request id, MQTT packet id,...), or 0 when the
	// protocol has none.
	SessionID() uint32

	// Merge folds other (a response) into the receiver (a request),
	// idempotently: Merge(Merge(r, s), s) == Merge(r, s).
	Merge(other Info)

	// SkipSend suppresses downstream emission, e.g. because this session
	// was already sent.
	SkipSend() bool

	// MessageType classifies this record for the normalizer.
	MessageType() MessageType

	// Base returns the shared bookkeeping every record carries.
	Base() *Base
}

// Base is embedded by every concrete Info implementation. Its Stamp helper
// is called at the start of every ParsePayload call, setting start/end
// time and is_tls before protocol-specific fields are filled in.
type Base struct {
	StartTimeMicros int64
	EndTimeMicros   int64
	IsTLS           bool
	Status          Status
	Sent            bool
}

// Stamp initializes the shared fields of a record from the current payload's
// ParseParam. Call this first thing in ParsePayload, before any
// protocol-specific field is set.
func (b *Base) Stamp(param *ParseParam) {
	b.StartTimeMicros = param.TimeMicros
	b.EndTimeMicros = param.TimeMicros
	b.IsTLS = param.Extra.IsTLS
}

// MergeBase folds the response-side Base fields into a request-side Base:
// timestamps take min(start)/max(end), and status is overwritten by the
// response's view. IsTLS keeps the request side's value.
func (b *Base) MergeBase(other *Base) {
	if other.StartTimeMicros != 0 && (b.StartTimeMicros == 0 || other.StartTimeMicros < b.StartTimeMicros) {
		b.StartTimeMicros = other.StartTimeMicros
	}
	if other.EndTimeMicros > b.EndTimeMicros {
		b.EndTimeMicros = other.EndTimeMicros
	}
	b.Status = other.Status
}

// RTTMicros is end - start, 0 if either is unset.
func (b *Base) RTTMicros() int64 {
	if b.StartTimeMicros == 0 || b.EndTimeMicros == 0 || b.EndTimeMicros < b.StartTimeMicros {
		return 0
	}
	return b.EndTimeMicros - b.StartTimeMicros
}
