package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medconnect/signal-server/internal/stats"
	"github.com/medconnect/signal-server/internal/types"
)

// SignalServer is the coordinator for all in-memory signaling state. It owns
// the connection registry, room membership, the presence set and the call
// table; connection handlers mutate them only through its methods, which
// guard every structure with its own lock. State is constructed per instance
// so multiple servers can run side by side in tests.
type SignalServer struct {
	log      *log.Logger
	stats    stats.StatsProvider
	registry *Registry
	rooms    *RoomTable
	presence *PresenceTracker
	calls    *CallManager

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
}

func NewSignalServer(logger *log.Logger, su stats.StatsProvider, inviteTTL time.Duration) (*SignalServer, error) {
	registry := NewRegistry()

	ss := &SignalServer{
		log:      logger,
		stats:    su,
		registry: registry,
		rooms:    NewRoomTable(),
		presence: NewPresenceTracker(),
		calls:    NewCallManager(logger, registry, su, inviteTTL),
		clients:  make(map[*Client]struct{}),
	}

	for _, metric := range []string{
		"NumActiveConnections",
		"NumIdentifiedUsers",
		"NumActiveRooms",
		"NumActiveCalls",
	} {
		su.RegisterMetric(metric)
	}

	return ss, nil
}

func (ss *SignalServer) Registry() *Registry {
	return ss.registry
}

func (ss *SignalServer) Presence() *PresenceTracker {
	return ss.presence
}

func (ss *SignalServer) Rooms() *RoomTable {
	return ss.rooms
}

func (ss *SignalServer) Calls() *CallManager {
	return ss.calls
}

// RegisterClient adds a new connection. Connections that arrived with a
// verified session are bound to their identity immediately.
func (ss *SignalServer) RegisterClient(c *Client) {
	ss.clientsLock.Lock()
	ss.clients[c] = struct{}{}
	ss.clientsLock.Unlock()

	ss.stats.Incr("NumActiveConnections")
	ss.log.Printf("added connection %q", c.Id())

	if c.Identified() {
		ss.bindIdentity(c)
	}
}

// DeRegisterClient runs the disconnect cascade: leave every joined room with
// the same notifications as an explicit leave, then release the identity
// binding and mark the user offline if this was its addressable connection.
func (ss *SignalServer) DeRegisterClient(c *Client) {
	for _, left := range ss.rooms.LeaveAll(c) {
		ss.announceLeave(c, left.RoomId, left.Count, left.Deleted)
	}

	if userId := c.UserId(); userId != "" {
		ss.releaseIdentity(userId, c)
	}

	ss.clientsLock.Lock()
	delete(ss.clients, c)
	ss.clientsLock.Unlock()

	ss.stats.Decr("NumActiveConnections")
	ss.log.Printf("removed connection %q", c.Id())
}

// HandleIdentify binds the connection to a user identity. Last write wins: a
// connection re-identifying as a different user releases its old binding, and
// a duplicate binding from another connection is evicted (that connection is
// notified but stays open).
func (ss *SignalServer) HandleIdentify(c *Client, p IdentifyPayload) {
	prevId, changed := c.setUser(types.User{Id: p.UserId, Name: p.UserName, Role: p.Role})
	if changed && prevId != "" {
		ss.releaseIdentity(prevId, c)
	}

	ss.bindIdentity(c)
}

func (ss *SignalServer) HandleJoin(c *Client, groupId string) {
	count, created := ss.rooms.Join(c, groupId)
	if created {
		ss.stats.Incr("NumActiveRooms")
	}

	ss.rooms.Broadcast(groupId, NewNotification(groupId, c.DisplayName()+" joined"))
	ss.rooms.Broadcast(groupId, NewOnlineCount(groupId, count))
}

func (ss *SignalServer) HandleLeave(c *Client, groupId string) {
	count, removed, deleted := ss.rooms.Leave(c, groupId)
	if !removed {
		return
	}

	ss.announceLeave(c, groupId, count, deleted)
}

// HandleMessage fans a chat message out to the whole room, sender included;
// clients de-duplicate their own echo by authorId/messageId.
func (ss *SignalServer) HandleMessage(c *Client, p MessagePayload) {
	if !c.inRoom(p.GroupId) {
		c.queueEvent(ErrBadPayload("not joined to group " + p.GroupId))
		return
	}

	messageId := p.MessageId
	if messageId == "" {
		messageId = uuid.NewString()
	}
	authorId := p.AuthorId
	if authorId == "" {
		authorId = c.UserId()
	}

	ss.rooms.Broadcast(p.GroupId, NewChatMessage(p.GroupId, c.DisplayName(), p.Text, messageId, authorId))
}

func (ss *SignalServer) HandlePresenceRequest(c *Client) {
	c.queueEvent(&ServerEvent{
		Event: EvPresenceList,
		Data:  PresenceList{UserIds: ss.presence.Snapshot()},
	})
}

// Shutdown stops every live connection's pumps.
func (ss *SignalServer) Shutdown(ctx context.Context) error {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	for c := range ss.clients {
		c.stopClient()
	}

	return ctx.Err()
}

func (ss *SignalServer) bindIdentity(c *Client) {
	userId := c.UserId()

	evicted, _ := ss.registry.Bind(userId, c)
	if evicted != nil {
		ss.log.Printf("binding for user %q moved from connection %q to %q", userId, evicted.Id(), c.Id())
		evicted.queueEvent(&ServerEvent{
			Event: EvSessionSuperseded,
			Data:  SessionSuperseded{UserId: userId},
		})
	}

	if ss.presence.MarkOnline(userId) {
		ss.stats.Incr("NumIdentifiedUsers")
		ss.broadcastAll(NewPresenceUpdate(userId, true))
	}
}

// releaseIdentity unbinds userId from c if c is still its addressable
// connection and fires the offline transition. A superseded connection
// dropping later is a no-op here, so presence never flickers offline while a
// newer binding is live.
func (ss *SignalServer) releaseIdentity(userId string, c *Client) {
	if !ss.registry.Unbind(userId, c) {
		return
	}

	if ss.presence.MarkOffline(userId) {
		ss.stats.Decr("NumIdentifiedUsers")
		ss.broadcastAll(NewPresenceUpdate(userId, false))
	}
}

func (ss *SignalServer) announceLeave(c *Client, groupId string, count int, deleted bool) {
	ss.rooms.Broadcast(groupId, NewNotification(groupId, c.DisplayName()+" left"))
	ss.rooms.Broadcast(groupId, NewOnlineCount(groupId, count))

	if deleted {
		ss.stats.Decr("NumActiveRooms")
	}
}

func (ss *SignalServer) broadcastAll(ev *ServerEvent) {
	ss.clientsLock.Lock()
	defer ss.clientsLock.Unlock()

	for c := range ss.clients {
		c.queueEvent(ev)
	}
}
