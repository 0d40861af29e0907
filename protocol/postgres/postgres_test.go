package postgres_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/postgres"
)

func paramDir(dir l7proto.Direction) *l7proto.ParseParam {
	return &l7proto.ParseParam{L4: l7proto.TCP, Direction: dir}
}

func put32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func startupPacket() []byte {
	body := append(put32(0x00030000), []byte("user\x00alice\x00\x00")...)
	return append(put32(uint32(4+len(body))), body...)
}

func sslRequestPacket() []byte {
	body := put32(0x04d2162f)
	return append(put32(uint32(4+len(body))), body...)
}

func taggedMessage(tag byte, payload []byte) []byte {
	msg := append([]byte{tag}, put32(uint32(4+len(payload)))...)
	return append(msg, payload...)
}

func TestCheckPayloadAcceptsStartup(t *testing.T) {
	p := postgres.New()
	require.True(t, p.CheckPayload(startupPacket(), paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadAcceptsSSLRequest(t *testing.T) {
	p := postgres.New()
	require.True(t, p.CheckPayload(sslRequestPacket(), paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadAcceptsQueryMessage(t *testing.T) {
	p := postgres.New()
	payload := taggedMessage('Q', []byte("SELECT 1\x00"))
	require.True(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsGarbage(t *testing.T) {
	p := postgres.New()
	require.False(t, p.CheckPayload([]byte("garbage!!"), paramDir(l7proto.ClientToServer)))
}

func TestParseStartupThenQueryThenResponse(t *testing.T) {
	p := postgres.New()

	infos, err := p.ParsePayload(startupPacket(), paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	startup := infos[0].(*postgres.Info)
	require.True(t, startup.IsStartup)
	require.Equal(t, l7proto.MsgRequest, startup.MessageType())

	reqPayload := taggedMessage('Q', []byte("SELECT 1\x00"))
	infos, err = p.ParsePayload(reqPayload, paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	req := infos[0].(*postgres.Info)
	require.Equal(t, byte('Q'), req.MessageTag)
	require.Equal(t, "Query", req.MessageName)

	respPayload := taggedMessage('C', []byte("SELECT 1\x00"))
	infos, err = p.ParsePayload(respPayload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := infos[0].(*postgres.Info)
	require.Equal(t, "CommandComplete", resp.MessageName)
	require.Equal(t, l7proto.StatusOk, resp.Base().Status)

	req.Merge(resp)
	require.Equal(t, l7proto.MsgSession, req.MessageType())
}

func TestParseErrorResponse(t *testing.T) {
	p := postgres.New()
	payload := taggedMessage('E', []byte("SERRORfatal\x00"))
	infos, err := p.ParsePayload(payload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := infos[0].(*postgres.Info)
	require.Equal(t, l7proto.StatusServerError, resp.Base().Status)
}
