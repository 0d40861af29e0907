package dns_test

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/dns"
)

func encode(t *testing.T, msg *layers.DNS) []byte {
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, msg.SerializeTo(buf, gopacket.SerializeOptions{}))
	return buf.Bytes()
}

func paramDir(dir l7proto.Direction) *l7proto.ParseParam {
	return &l7proto.ParseParam{L4: l7proto.UDP, Direction: dir}
}

func TestCheckPayloadAcceptsQuery(t *testing.T) {
	p := dns.New()
	msg := &layers.DNS{
		ID:        42,
		QR:        false,
		OpCode:    layers.DNSOpCodeQuery,
		QDCount:   1,
		Questions: []layers.DNSQuestion{{Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
	}
	require.True(t, p.CheckPayload(encode(t, msg), paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsGarbage(t *testing.T) {
	p := dns.New()
	require.False(t, p.CheckPayload([]byte("not dns"), paramDir(l7proto.ClientToServer)))
}

func TestParseQueryThenResponseMerge(t *testing.T) {
	p := dns.New()
	query := &layers.DNS{
		ID:        7,
		QR:        false,
		QDCount:   1,
		Questions: []layers.DNSQuestion{{Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
	}
	infos, err := p.ParsePayload(encode(t, query), paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	req := infos[0].(*dns.Info)
	require.Equal(t, uint32(7), req.SessionID())
	require.Equal(t, []string{"example.com"}, req.Questions)
	require.Equal(t, l7proto.MsgRequest, req.MessageType())

	response := &layers.DNS{
		ID:           7,
		QR:           true,
		QDCount:      1,
		ANCount:      1,
		ResponseCode: layers.DNSResponseCodeNoErr,
		Questions:    []layers.DNSQuestion{{Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN}},
		Answers: []layers.DNSResourceRecord{{
			Name: []byte("example.com"), Type: layers.DNSTypeA, Class: layers.DNSClassIN,
			IP: []byte{93, 184, 216, 34},
		}},
	}
	infos, err = p.ParsePayload(encode(t, response), paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := infos[0].(*dns.Info)
	require.Equal(t, l7proto.StatusOk, resp.Base().Status)
	require.Equal(t, []string{"example.com"}, resp.Answers)

	req.Merge(resp)
	require.Equal(t, l7proto.MsgSession, req.MessageType())
	require.Equal(t, []string{"example.com"}, req.Answers)
}
