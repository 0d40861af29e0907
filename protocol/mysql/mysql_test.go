package mysql_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/protocol/mysql"
)

func header(seq byte, body []byte) []byte {
	n := len(body)
	return append([]byte{byte(n), byte(n >> 8), byte(n >> 16), seq}, body...)
}

func paramDir(dir l7proto.Direction) *l7proto.ParseParam {
	return &l7proto.ParseParam{L4: l7proto.TCP, Direction: dir}
}

// Scenario 1: greeting, then QUERY, then OK.
func TestGreetingThenQueryThenOK(t *testing.T) {
	p := mysql.New()

	greetingBody := []byte{0x0a, 0x35, 0x2e, 0x37, 0x2e, 0x32, 0x38, 0x00, 0x0b, 0x00, 0x00, 0x00}
	greetingPayload := header(0, greetingBody)

	infos, err := p.ParsePayload(greetingPayload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	greeting := infos[0].(*mysql.Info)
	require.Equal(t, uint8(10), greeting.ProtocolVersion)
	require.Equal(t, "5.7.28", greeting.ServerVersion)
	require.Equal(t, uint32(11), greeting.ServerThreadID)
	require.Equal(t, l7proto.MsgOther, greeting.MessageType())

	queryBody := []byte{0x03, 'S', 'E', 'L', 'E', 'C', 'T', ' ', '1'}
	queryPayload := header(0, queryBody)
	infos, err = p.ParsePayload(queryPayload, paramDir(l7proto.ClientToServer))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	req := infos[0].(*mysql.Info)
	require.Equal(t, byte(0x03), req.Command)
	require.Equal(t, "SELECT 1", req.Context)
	require.Equal(t, l7proto.MsgRequest, req.MessageType())

	okBody := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00}
	okPayload := header(1, okBody)
	infos, err = p.ParsePayload(okPayload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	resp := infos[0].(*mysql.Info)
	require.Equal(t, byte(0x00), resp.ResponseCode)
	require.Equal(t, uint64(1), resp.AffectedRows)
	require.Equal(t, l7proto.StatusOk, resp.Base().Status)
	require.Equal(t, l7proto.MsgResponse, resp.MessageType())

	req.Merge(resp)
	require.Equal(t, l7proto.StatusOk, req.Base().Status)
	require.Equal(t, l7proto.MsgSession, req.MessageType())
}

// Scenario 2: MySQL error response.
func TestErrorResponse(t *testing.T) {
	p := mysql.New()
	// error_code=1045 (0x0415 LE), sqlstate marker '#' + 5-char state "48Y00",
	// then the message "Unknown".
	body := []byte{0xff, 0x15, 0x04, '#', '4', '8', 'Y', '0', '0', 'U', 'n', 'k', 'n', 'o', 'w', 'n'}
	payload := header(1, body)

	// A non-zero sequence response is only classifiable once the flow is
	// already known to be MySQL; seed that via a prior
	// greeting.
	_, err := p.ParsePayload(header(0, []byte{0x0a, 'x', 0x00, 0, 0, 0, 0}), paramDir(l7proto.ServerToClient))
	require.NoError(t, err)

	infos, err := p.ParsePayload(payload, paramDir(l7proto.ServerToClient))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	resp := infos[0].(*mysql.Info)
	require.Equal(t, byte(0xff), resp.ResponseCode)
	require.Equal(t, uint16(1045), resp.ErrorCode)
	require.Equal(t, "Unknown", resp.ErrorMessage)
	require.Equal(t, l7proto.StatusServerError, resp.Base().Status)
}

// Scenario 3: identification rejection on a non-MySQL payload.
func TestCheckPayloadRejectsGarbage(t *testing.T) {
	p := mysql.New()
	payload := header(0, []byte("NOTHING"))
	require.False(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadAcceptsASCIIQuery(t *testing.T) {
	p := mysql.New()
	payload := header(0, append([]byte{0x03}, []byte("SELECT 1")...))
	require.True(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadAcceptsVersionLikeGreeting(t *testing.T) {
	p := mysql.New()
	payload := header(0, append([]byte{0x0a}, []byte("5.7.28\x00")...))
	require.True(t, p.CheckPayload(payload, paramDir(l7proto.ClientToServer)))
}

func TestCheckPayloadDeterministicAndIdempotent(t *testing.T) {
	p := mysql.New()
	payload := header(0, append([]byte{0x03}, []byte("SELECT 1")...))
	first := p.CheckPayload(payload, paramDir(l7proto.ClientToServer))
	second := p.CheckPayload(payload, paramDir(l7proto.ClientToServer))
	require.Equal(t, first, second)
}

func TestMergeIdempotent(t *testing.T) {
	req := &mysql.Info{Command: 0x03, Context: "SELECT 1"}
	resp := &mysql.Info{ResponseCode: 0x00, AffectedRows: 1}

	once := *req
	once.Merge(resp)
	twice := once
	twice.Merge(resp)

	require.Equal(t, once.AffectedRows, twice.AffectedRows)
	require.Equal(t, once.ResponseCode, twice.ResponseCode)
}

// Scenario 6: length-encoded integer boundaries. Exercised indirectly
// through the OK response path since decodeLenEncInt is unexported; these
// mirror the table in exactly.
func TestLengthEncodedIntegerBoundaries(t *testing.T) {
	cases := []struct {
		name string
		body []byte
		expected uint64
	}{
		{"1-byte", []byte{0x7f}, 127},
		{"2-byte-prefix-0xfc", []byte{0xfc, 0x00, 0x01}, 256},
		{"3-byte-prefix-0xfd", []byte{0xfd, 0x00, 0x00, 0x01}, 65536},
		{"8-byte-prefix-0xfe", []byte{0xfe, 0, 0, 0, 0, 0, 0, 0, 1}, 1 << 56},
		{"truncated-0xfc", []byte{0xfc}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := mysql.New()
			// A non-zero sequence response is only classifiable once the
			// flow is already known to be MySQL; seed that via a prior
			// greeting, as TestErrorResponse does.
			_, err := p.ParsePayload(header(0, []byte{0x0a, 'x', 0x00, 0, 0, 0, 0}), paramDir(l7proto.ServerToClient))
			require.NoError(t, err)

			okBody := append([]byte{0x00}, c.body...)
			infos, err := p.ParsePayload(header(1, okBody), paramDir(l7proto.ServerToClient))
			require.NoError(t, err)
			require.Equal(t, c.expected, infos[0].(*mysql.Info).AffectedRows)
		})
	}
}

func TestHeaderRecursionIsBounded(t *testing.T) {
	// Ten concatenated 1-byte-body frames, none zero-sequence and none an
	// OK/ERR/EOF code, all with a nonzero sequence number: decodeHeader
	// must give up rather than recurse without bound.
	var payload []byte
	for i := 0; i < 10; i++ {
		payload = append(payload, header(byte(i+1), []byte{0x42})...)
	}
	p := mysql.New()
	_, err := p.ParsePayload(payload, paramDir(l7proto.ServerToClient))
	require.Error(t, err)
}
