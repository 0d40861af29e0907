package redis_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/redis"
)

func paramDir(dir l7proto.Direction) *l7proto.ParseParam {
	return &l7proto.ParseParam{L4: l7proto.TCP, Direction: dir}
}

func TestCheckPayloadAcceptsCompleteArray(t *testing.T) {
	p := redis.New()
	payload := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	require.True(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsIncompleteArray(t *testing.T) {
	p := redis.New()
	payload := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfo")
	require.False(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadRejectsGarbage(t *testing.T) {
	p := redis.New()
	require.False(t, p.CheckPayload([]byte("hello"), paramDir(l7proto.ClientToServer)))
}

func TestParseRequestCommand(t *testing.T) {
	p := redis.New()
	payload := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	infos, err := p.ParsePayload(payload, paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	req := infos[0].(*redis.Info)
	require.Equal(t, "SET", req.Command)
	require.Equal(t, []string{"foo", "bar"}, req.Args)
	require.Equal(t, l7proto.MsgRequest, req.MessageType())
}

func TestParseResponseAndMerge(t *testing.T) {
	p := redis.New()
	reqPayload := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	reqInfos, err := p.ParsePayload(reqPayload, paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	req := reqInfos[0].(*redis.Info)

	respPayload := []byte("$3\r\nbar\r\n")
	respInfos, err := p.ParsePayload(respPayload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := respInfos[0].(*redis.Info)
	require.Equal(t, "bar", resp.Reply)
	require.Equal(t, l7proto.StatusOk, resp.Base().Status)
	require.False(t, resp.IsError)

	req.Merge(resp)
	require.Equal(t, l7proto.MsgSession, req.MessageType())
	require.Equal(t, "bar", req.Reply)
}

func TestParseErrorResponse(t *testing.T) {
	p := redis.New()
	payload := []byte("-ERR unknown command\r\n")
	infos, err := p.ParsePayload(payload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	resp := infos[0].(*redis.Info)
	require.True(t, resp.IsError)
	require.Equal(t, "ERR unknown command", resp.Reply)
	require.Equal(t, l7proto.StatusServerError, resp.Base().Status)
}
