package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/l7proto"
	"github.com/netobserve/l7agent/session"
)

// fakeInfo is a minimal l7proto.Info for exercising the aggregator without
// depending on any concrete protocol package.
type fakeInfo struct {
	base    l7proto.Base
	id      uint32
	msgType l7proto.MessageType
	skip    bool
	tag     string
}

func (f *fakeInfo) Protocol() l7proto.Protocol       { return l7proto.MySQL }
func (f *fakeInfo) SessionID() uint32                { return f.id }
func (f *fakeInfo) MessageType() l7proto.MessageType { return f.msgType }
func (f *fakeInfo) SkipSend() bool                   { return f.skip }
func (f *fakeInfo) Base() *l7proto.Base              { return &f.base }
func (f *fakeInfo) Merge(other l7proto.Info) {
	o := other.(*fakeInfo)
	f.base.MergeBase(&o.base)
	f.tag = f.tag + "+" + o.tag
	if o.msgType == l7proto.MsgResponse {
		f.msgType = l7proto.MsgSession
	}
}

func req(id uint32, tag string) *fakeInfo {
	return &fakeInfo{id: id, msgType: l7proto.MsgRequest, tag: tag}
}

func resp(id uint32, tag string) *fakeInfo {
	return &fakeInfo{id: id, msgType: l7proto.MsgResponse, tag: tag}
}

func TestInsertThenMergeSameBucket(t *testing.T) {
	a := session.NewAggregator(16, 60*time.Second, 16)
	base := time.Unix(1_700_000_000, 0)
	key := session.NewSessionKey(0xAABBCCDD00000000, l7proto.MySQL, 7)

	emissions := a.Insert(key, req(7, "req"), base)
	require.Empty(t, emissions)

	emissions = a.Insert(key, resp(7, "resp"), base.Add(2*time.Second))
	require.Len(t, emissions, 1)
	require.False(t, emissions[0].Half)
	merged := emissions[0].Info.(*fakeInfo)
	require.Equal(t, l7proto.MsgSession, merged.MessageType())
	require.Equal(t, "req+resp", merged.tag)
}

func TestMergeAcrossPreviousBucket(t *testing.T) {
	a := session.NewAggregator(16, 60*time.Second, 16)
	base := time.Unix(1_700_000_000, 0)
	key := session.NewSessionKey(1<<40, l7proto.MySQL, 3)

	emissions := a.Insert(key, req(3, "req"), base)
	require.Empty(t, emissions)

	// Advance into the next 60s bucket; the request is still in "previous".
	emissions = a.Insert(key, resp(3, "resp"), base.Add(70*time.Second))
	require.Len(t, emissions, 1)
	require.False(t, emissions[0].Half)
}

func TestEvictionEmitsHalfSessionOnBucketWrap(t *testing.T) {
	a := session.NewAggregator(2, 60*time.Second, 16)
	base := time.Unix(1_700_000_000, 0)
	key := session.NewSessionKey(1<<40, l7proto.MySQL, 9)

	emissions := a.Insert(key, req(9, "orphan"), base)
	require.Empty(t, emissions)

	// Two buckets only: base, base+60s (previous still holds it), then
	// base+120s wraps around and evicts the original bucket.
	emissions = a.Insert(session.NewSessionKey(1<<41, l7proto.MySQL, 1), req(1, "other"), base.Add(60*time.Second))
	require.Empty(t, emissions)

	emissions = a.Insert(session.NewSessionKey(1<<42, l7proto.MySQL, 2), req(2, "third"), base.Add(120*time.Second))
	require.Len(t, emissions, 1)
	require.True(t, emissions[0].Half)
	require.Equal(t, uint32(9), emissions[0].Info.SessionID())
}

func TestPerBucketCapEvictsOldest(t *testing.T) {
	a := session.NewAggregator(16, 60*time.Second, 2)
	base := time.Unix(1_700_000_000, 0)

	a.Insert(session.NewSessionKey(1<<40, l7proto.MySQL, 1), req(1, "a"), base)
	a.Insert(session.NewSessionKey(1<<41, l7proto.MySQL, 2), req(2, "b"), base)
	emissions := a.Insert(session.NewSessionKey(1<<42, l7proto.MySQL, 3), req(3, "c"), base)

	require.Len(t, emissions, 1)
	require.True(t, emissions[0].Half)
	require.Equal(t, uint32(1), emissions[0].Info.SessionID())
}

func TestSkipSendSuppressesEmission(t *testing.T) {
	a := session.NewAggregator(2, 60*time.Second, 16)
	base := time.Unix(1_700_000_000, 0)
	key := session.NewSessionKey(1<<40, l7proto.MySQL, 5)

	sent := req(5, "sent")
	sent.skip = true
	a.Insert(key, sent, base)

	emissions := a.Insert(session.NewSessionKey(1<<41, l7proto.MySQL, 1), req(1, "x"), base.Add(120*time.Second))
	require.Empty(t, emissions)
}

func TestFlushEmitsAllPending(t *testing.T) {
	a := session.NewAggregator(4, 60*time.Second, 16)
	base := time.Unix(1_700_000_000, 0)

	a.Insert(session.NewSessionKey(1<<40, l7proto.MySQL, 1), req(1, "a"), base)
	a.Insert(session.NewSessionKey(1<<41, l7proto.MySQL, 2), req(2, "b"), base)

	emissions := a.Flush()
	require.Len(t, emissions, 2)
}
