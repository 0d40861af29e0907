package l7agent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUDPFlowKeyIsDirectionInvariant(t *testing.T) {
	a := net.ParseIP("10.0.0.1")
	b := net.ParseIP("10.0.0.2")

	forward := newUDPFlowKey(a, b, 53000, 53)
	reverse := newUDPFlowKey(b, a, 53, 53000)

	require.Equal(t, forward, reverse)
}

func TestUDPFlowKeyDistinguishesDifferentFlows(t *testing.T) {
	a := net.ParseIP("10.0.0.1")
	b := net.ParseIP("10.0.0.2")
	c := net.ParseIP("10.0.0.3")

	require.NotEqual(t, newUDPFlowKey(a, b, 1000, 53), newUDPFlowKey(a, c, 1000, 53))
	require.NotEqual(t, newUDPFlowKey(a, b, 1000, 53), newUDPFlowKey(a, b, 1001, 53))
}
