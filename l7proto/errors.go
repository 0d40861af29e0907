package l7proto

import "github.com/pkg/errors"

// Sentinel errors the core produces. All are recovered locally by the
// dispatch layer: a parse error drops the current payload, never the flow.
var (
	// ErrInvalidL4Protocol is returned when a parser is invoked on a
	// transport it does not support.
	ErrInvalidL4Protocol = errors.New("l7proto: parser invoked on unsupported L4 protocol")

	// ErrParseFailed is returned when a payload is malformed or truncated
	// for the identified protocol.
	ErrParseFailed = errors.New("l7proto: parse failed")

	// ErrBitmapEmpty is returned when identification has exhausted every
	// candidate protocol and the flow is downgraded to Unknown.
	ErrBitmapEmpty = errors.New("l7proto: bitmap empty, flow downgraded to unknown")
)
