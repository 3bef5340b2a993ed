package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/medconnect/signal-server/internal/stats"
	"github.com/medconnect/signal-server/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCallManager(t *testing.T, su *stats.MockStatsUpdater, ttl time.Duration) (*CallManager, *Registry) {
	registry := NewRegistry()
	cm := NewCallManager(testutil.TestLogger(t), registry, su, ttl)
	return cm, registry
}

func TestCallManager_InviteDeliveredToCalleeOnly(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, time.Minute)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	bystander := newTestClient("conn-3", "u3", "carol")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)
	registry.Bind("u3", bystander)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1", PricePerMinute: 2.5})

	events := drainEvents(callee)
	assert.Len(t, events, 1, "expected exactly one delivery to the callee")
	assert.Equal(t, EvCallIncoming, events[0].Event, "expected call:incoming")
	incoming := events[0].Data.(CallIncoming)
	assert.Equal(t, "call-1", incoming.RoomName, "expected room name to match")
	assert.Equal(t, "u1", incoming.CallerId, "expected caller id to match")
	assert.Equal(t, "alice", incoming.CallerName, "expected caller display name")
	assert.Equal(t, 2.5, incoming.PricePerMinute, "expected price to be relayed")

	assert.Empty(t, drainEvents(caller), "expected no echo to the caller")
	assert.Empty(t, drainEvents(bystander), "expected no delivery to other connections")
	assert.Equal(t, 1, cm.NumActive(), "expected one tracked attempt")
}

func TestCallManager_InviteOfflineCallee(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, time.Minute)

	caller := newTestClient("conn-1", "u1", "alice")
	registry.Bind("u1", caller)

	cm.Invite(caller, CallPayload{ToUserId: "u3", RoomName: "call-1"})

	events := drainEvents(caller)
	assert.Len(t, events, 1, "expected explicit feedback to the caller")
	assert.Equal(t, EvCallUnavailable, events[0].Event, "expected call:unavailable")
	data := events[0].Data.(CallEvent)
	assert.Equal(t, "call-1", data.RoomName, "expected room name in feedback")
	assert.Equal(t, "u3", data.ToUserId, "expected target user in feedback")

	assert.Equal(t, 0, cm.NumActive(), "expected no attempt for an offline callee")
	_, ok := registry.Resolve("u3")
	assert.False(t, ok, "expected u3 to remain unresolvable")
}

func TestCallManager_InviteRequiresIdentity(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cm, _ := newTestCallManager(t, su, time.Minute)

	anon := newTestClient("conn-1", "", "")
	cm.Invite(anon, CallPayload{ToUserId: "u2", RoomName: "call-1"})

	events := drainEvents(anon)
	assert.Len(t, events, 1, "expected an error event")
	assert.Equal(t, EvError, events[0].Event, "expected error for anonymous caller")
}

func TestCallManager_AnswerRelayedToCaller(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, time.Minute)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})
	drainEvents(callee)

	sdp := json.RawMessage(`{"type":"answer"}`)
	cm.Answer(callee, CallPayload{ToUserId: "u1", RoomName: "call-1", Sdp: sdp})

	events := drainEvents(caller)
	assert.Len(t, events, 1, "expected answered event at the caller")
	assert.Equal(t, EvCallAnswered, events[0].Event, "expected call:answered")
	data := events[0].Data.(CallEvent)
	assert.Equal(t, "call-1", data.RoomName, "expected room name to match")
	assert.Equal(t, sdp, data.Sdp, "expected SDP answer relayed untouched")

	// answered attempts stay tracked until the call ends
	assert.Equal(t, 1, cm.NumActive(), "expected attempt to remain after answer")
}

func TestCallManager_DeclineDiscardsAttempt(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, time.Minute)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})
	drainEvents(callee)

	cm.Decline(callee, CallPayload{ToUserId: "u1", RoomName: "call-1"})

	events := drainEvents(caller)
	assert.Len(t, events, 1, "expected declined event at the caller")
	assert.Equal(t, EvCallDeclined, events[0].Event, "expected call:declined")
	assert.Equal(t, 0, cm.NumActive(), "expected attempt to be discarded")
}

func TestCallManager_EndRelayedToPeer(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, time.Minute)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})
	cm.Answer(callee, CallPayload{ToUserId: "u1", RoomName: "call-1"})
	drainEvents(caller)
	drainEvents(callee)

	cm.End(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})

	events := drainEvents(callee)
	assert.Len(t, events, 1, "expected ended event at the callee")
	assert.Equal(t, EvCallEnded, events[0].Event, "expected call:ended")
	assert.Equal(t, 0, cm.NumActive(), "expected attempt to be discarded")
}

func TestCallManager_RelayToOfflinePeerIsSoftDrop(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cm, _ := newTestCallManager(t, su, time.Minute)

	callee := newTestClient("conn-2", "u2", "bob")

	// caller vanished between invite and answer; nothing to deliver,
	// nothing breaks
	cm.Answer(callee, CallPayload{ToUserId: "u1", RoomName: "call-1"})
	cm.RelayICE(callee, CallPayload{ToUserId: "u1", RoomName: "call-1", Candidate: json.RawMessage(`{}`)})

	assert.Empty(t, drainEvents(callee), "expected no feedback on soft drop")
}

func TestCallManager_InviteExpiry(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, 20*time.Millisecond)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})
	drainEvents(callee)

	assert.Eventually(t, func() bool {
		return len(caller.send) == 1 && len(callee.send) == 1
	}, time.Second, 5*time.Millisecond, "expected expiry events to be queued")
	assert.Equal(t, 0, cm.NumActive(), "expected attempt to expire")

	callerEvents := drainEvents(caller)
	assert.Len(t, callerEvents, 1, "expected timeout event at the caller")
	assert.Equal(t, EvCallTimeout, callerEvents[0].Event, "expected call:timeout")

	calleeEvents := drainEvents(callee)
	assert.Len(t, calleeEvents, 1, "expected ended event at the callee")
	assert.Equal(t, EvCallEnded, calleeEvents[0].Event, "expected call:ended to reset ringing UI")
}

func TestCallManager_AnswerStopsExpiry(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cm, registry := newTestCallManager(t, su, 20*time.Millisecond)

	caller := newTestClient("conn-1", "u1", "alice")
	callee := newTestClient("conn-2", "u2", "bob")
	registry.Bind("u1", caller)
	registry.Bind("u2", callee)

	cm.Invite(caller, CallPayload{ToUserId: "u2", RoomName: "call-1"})
	cm.Answer(callee, CallPayload{ToUserId: "u1", RoomName: "call-1"})
	drainEvents(caller)
	drainEvents(callee)

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, cm.NumActive(), "expected answered attempt to survive the TTL")
	assert.Empty(t, drainEvents(caller), "expected no timeout after answer")
	assert.Empty(t, drainEvents(callee), "expected no synthetic end after answer")
}
