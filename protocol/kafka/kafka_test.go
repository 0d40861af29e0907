package kafka_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/kafka"
)

func put16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func put32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func buildRequest(apiKey, apiVersion int16, correlationID int32, clientID string) []byte {
	var body []byte
	body = append(body, put16(uint16(apiKey))...)
	body = append(body, put16(uint16(apiVersion))...)
	body = append(body, put32(uint32(correlationID))...)
	body = append(body, put16(uint16(len(clientID)))...)
	body = append(body, []byte(clientID)...)

	var out []byte
	out = append(out, put32(uint32(len(body)))...)
	out = append(out, body...)
	return out
}

func buildResponse(correlationID int32) []byte {
	body := put32(uint32(correlationID))
	var out []byte
	out = append(out, put32(uint32(len(body)))...)
	out = append(out, body...)
	return out
}

func paramDir(dir l7proto.Direction) *l7proto.ParseParam {
	return &l7proto.ParseParam{L4: l7proto.TCP, Direction: dir}
}

func TestCheckPayloadAcceptsRequest(t *testing.T) {
	p := kafka.New()
	payload := buildRequest(3, 7, 99, "producer-1")
	require.True(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsUnknownAPIKey(t *testing.T) {
	p := kafka.New()
	payload := buildRequest(9000, 7, 99, "producer-1")
	require.False(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsGarbage(t *testing.T) {
	p := kafka.New()
	require.False(t, p.CheckPayload([]byte{0, 0, 0, 1}, paramDir(l7proto.ClientToServer)))
}

func TestParseRequestThenResponseMerge(t *testing.T) {
	p := kafka.New()
	reqPayload := buildRequest(3, 7, 99, "producer-1")
	infos, err := p.ParsePayload(reqPayload, paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	req := infos[0].(*kafka.Info)
	require.Equal(t, uint32(99), req.SessionID())
	require.Equal(t, int16(3), req.APIKey)
	require.Equal(t, "producer-1", req.ClientID)
	require.Equal(t, l7proto.MsgRequest, req.MessageType())

	respPayload := buildResponse(99)
	infos, err = p.ParsePayload(respPayload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := infos[0].(*kafka.Info)
	require.Equal(t, uint32(99), resp.SessionID())

	req.Merge(resp)
	require.Equal(t, l7proto.MsgSession, req.MessageType())
}
