package server

import (
	"log"
	"sync"
	"time"

	"github.com/medconnect/signal-server/internal/stats"
)

type callState int

const (
	callInvited callState = iota
	callAnswered
)

// callAttempt is the ephemeral state of one invite handshake, keyed by the
// caller-chosen room name. Declined, ended and timed-out attempts are
// discarded; a new room name starts a fresh attempt.
type callAttempt struct {
	roomName string
	callerId string
	calleeId string
	state    callState
	expire   *time.Timer
}

// CallManager brokers the invite -> answer/decline -> end handshake between
// two identified users and relays opaque SDP/ICE payloads between them. An
// unresolvable target is a soft miss: the event is dropped (after caller
// feedback on invite) and never tears down the sending connection.
type CallManager struct {
	log      *log.Logger
	registry *Registry
	stats    stats.StatsProvider
	ttl      time.Duration

	mu       sync.Mutex
	attempts map[string]*callAttempt
}

func NewCallManager(logger *log.Logger, registry *Registry, su stats.StatsProvider, inviteTTL time.Duration) *CallManager {
	return &CallManager{
		log:      logger,
		registry: registry,
		stats:    su,
		ttl:      inviteTTL,
		attempts: make(map[string]*callAttempt),
	}
}

// Invite relays an incoming-call event to the callee's current connection.
// If the callee has no live binding the caller is told explicitly instead of
// the invite vanishing silently.
func (cm *CallManager) Invite(caller *Client, p CallPayload) {
	if !caller.Identified() {
		caller.queueEvent(ErrBadPayload("identify before placing a call"))
		return
	}

	callee, ok := cm.registry.Resolve(p.ToUserId)
	if !ok {
		cm.log.Printf("invite to offline user %q dropped", p.ToUserId)
		caller.queueEvent(&ServerEvent{
			Event: EvCallUnavailable,
			Data:  CallEvent{RoomName: p.RoomName, ToUserId: p.ToUserId},
		})
		return
	}

	callerName := p.CallerName
	if callerName == "" {
		callerName = caller.DisplayName()
	}

	cm.mu.Lock()
	if prev, ok := cm.attempts[p.RoomName]; ok {
		// re-invite on the same room name replaces the earlier attempt
		prev.expire.Stop()
	} else {
		cm.stats.Incr("NumActiveCalls")
	}

	att := &callAttempt{
		roomName: p.RoomName,
		callerId: caller.UserId(),
		calleeId: p.ToUserId,
		state:    callInvited,
	}
	att.expire = time.AfterFunc(cm.ttl, func() { cm.expireInvite(p.RoomName) })
	cm.attempts[p.RoomName] = att
	cm.mu.Unlock()

	callee.queueEvent(&ServerEvent{
		Event: EvCallIncoming,
		Data: CallIncoming{
			RoomName:       p.RoomName,
			PricePerMinute: p.PricePerMinute,
			CallerName:     callerName,
			CallerId:       caller.UserId(),
			Sdp:            p.Sdp,
		},
	})
}

// Answer relays the answered signal (and SDP answer, when present) back to
// the caller and stops the invite expiry.
func (cm *CallManager) Answer(responder *Client, p CallPayload) {
	cm.mu.Lock()
	if att, ok := cm.attempts[p.RoomName]; ok && att.state == callInvited {
		att.state = callAnswered
		att.expire.Stop()
	}
	cm.mu.Unlock()

	cm.relay(p.ToUserId, &ServerEvent{
		Event: EvCallAnswered,
		Data:  CallEvent{RoomName: p.RoomName, Sdp: p.Sdp},
	})
}

// Decline relays the declined signal to the caller and discards the attempt.
func (cm *CallManager) Decline(responder *Client, p CallPayload) {
	cm.discard(p.RoomName)
	cm.relay(p.ToUserId, &ServerEvent{
		Event: EvCallDeclined,
		Data:  CallEvent{RoomName: p.RoomName},
	})
}

// End relays the ended signal to the other party and discards the attempt.
// Media cleanup is the clients' responsibility.
func (cm *CallManager) End(c *Client, p CallPayload) {
	cm.discard(p.RoomName)
	cm.relay(p.ToUserId, &ServerEvent{
		Event: EvCallEnded,
		Data:  CallEvent{RoomName: p.RoomName},
	})
}

// RelayICE passes an ICE candidate through to the peer without interpreting
// it.
func (cm *CallManager) RelayICE(c *Client, p CallPayload) {
	cm.relay(p.ToUserId, &ServerEvent{
		Event: EvCallICE,
		Data:  CallEvent{RoomName: p.RoomName, Candidate: p.Candidate},
	})
}

func (cm *CallManager) NumActive() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return len(cm.attempts)
}

func (cm *CallManager) relay(toUserId string, ev *ServerEvent) {
	target, ok := cm.registry.Resolve(toUserId)
	if !ok {
		cm.log.Printf("%s relay to offline user %q dropped", ev.Event, toUserId)
		return
	}

	target.queueEvent(ev)
}

func (cm *CallManager) discard(roomName string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	att, ok := cm.attempts[roomName]
	if !ok {
		return
	}

	att.expire.Stop()
	delete(cm.attempts, roomName)
	cm.stats.Decr("NumActiveCalls")
}

// expireInvite fires when an invite was neither answered nor declined within
// the TTL. The caller gets a timeout event, the callee an ended event so a
// ringing UI resets.
func (cm *CallManager) expireInvite(roomName string) {
	cm.mu.Lock()
	att, ok := cm.attempts[roomName]
	if !ok || att.state != callInvited {
		cm.mu.Unlock()
		return
	}
	delete(cm.attempts, roomName)
	cm.mu.Unlock()

	cm.stats.Decr("NumActiveCalls")
	cm.log.Printf("invite %q from %q to %q timed out", roomName, att.callerId, att.calleeId)

	if caller, ok := cm.registry.Resolve(att.callerId); ok {
		caller.queueEvent(&ServerEvent{
			Event: EvCallTimeout,
			Data:  CallEvent{RoomName: roomName},
		})
	}
	if callee, ok := cm.registry.Resolve(att.calleeId); ok {
		callee.queueEvent(&ServerEvent{
			Event: EvCallEnded,
			Data:  CallEvent{RoomName: roomName},
		})
	}
}
