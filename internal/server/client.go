package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/medconnect/signal-server/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

const anonDisplayName = "anon"

// Client is one live duplex connection. Identity is optional: a connection
// may arrive pre-identified via the session token or identify later over the
// wire, and re-identify is last-write-wins.
type Client struct {
	conn         *websocket.Conn
	signalServer *SignalServer
	log          *log.Logger
	id           string
	send         chan *ServerEvent
	stop         chan struct{}
	stopOnce     sync.Once

	mu         sync.RWMutex
	user       types.User
	identified bool
	rooms      map[string]struct{}
}

func NewClient(id string, user types.User, identified bool, conn *websocket.Conn, ss *SignalServer, l *log.Logger) *Client {
	return &Client{
		conn:         conn,
		signalServer: ss,
		log:          l,
		id:           id,
		user:         user,
		identified:   identified && user.Id != "",
		send:         make(chan *ServerEvent, 256),
		stop:         make(chan struct{}),
		rooms:        make(map[string]struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) UserId() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.user.Id
}

func (c *Client) DisplayName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.user.Name == "" {
		return anonDisplayName
	}
	return c.user.Name
}

func (c *Client) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.user.Role
}

func (c *Client) Identified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.identified
}

// setUser rebinds the connection's identity. It returns the previously bound
// user id and whether the id changed, so the coordinator can release a stale
// registry binding.
func (c *Client) setUser(user types.User) (prevId string, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevId = c.user.Id
	c.user = user
	c.identified = user.Id != ""

	return prevId, prevId != user.Id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("write exiting for connection %q", c.id)
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(ev)
			if err != nil {
				c.log.Println("failed to serialize event:", err)
				continue
			}

			if !c.writeFrame(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Printf("read exiting for connection %q", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var ev ClientEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Println("error parsing event:", err)
			c.queueEvent(ErrBadPayload("invalid event format"))
			continue
		}

		c.dispatch(&ev)
	}
}

func (c *Client) dispatch(ev *ClientEvent) {
	switch ev.Event {
	case EvIdentify, EvIdentifyAlias:
		var p IdentifyPayload
		if !c.decode(ev.Data, &p) {
			return
		}
		if p.UserId == "" {
			c.queueEvent(ErrBadPayload("identify requires userId"))
			return
		}
		c.signalServer.HandleIdentify(c, p)
	case EvJoin:
		var p JoinPayload
		if !c.decode(ev.Data, &p) {
			return
		}
		if p.GroupId == "" {
			c.queueEvent(ErrBadPayload("join requires groupId"))
			return
		}
		c.signalServer.HandleJoin(c, p.GroupId)
	case EvLeave:
		var p LeavePayload
		if !c.decode(ev.Data, &p) {
			return
		}
		if p.GroupId == "" {
			c.queueEvent(ErrBadPayload("leave requires groupId"))
			return
		}
		c.signalServer.HandleLeave(c, p.GroupId)
	case EvMessage:
		var p MessagePayload
		if !c.decode(ev.Data, &p) {
			return
		}
		if p.GroupId == "" || p.Text == "" {
			c.queueEvent(ErrBadPayload("message requires groupId and text"))
			return
		}
		c.signalServer.HandleMessage(c, p)
	case EvCallInvite, EvCallOffer:
		p, ok := c.decodeCall(ev.Data)
		if !ok {
			return
		}
		c.signalServer.Calls().Invite(c, p)
	case EvCallAnswer:
		p, ok := c.decodeCall(ev.Data)
		if !ok {
			return
		}
		c.signalServer.Calls().Answer(c, p)
	case EvCallDecline:
		p, ok := c.decodeCall(ev.Data)
		if !ok {
			return
		}
		c.signalServer.Calls().Decline(c, p)
	case EvCallEnd:
		p, ok := c.decodeCall(ev.Data)
		if !ok {
			return
		}
		c.signalServer.Calls().End(c, p)
	case EvCallICE:
		p, ok := c.decodeCall(ev.Data)
		if !ok {
			return
		}
		c.signalServer.Calls().RelayICE(c, p)
	case EvPresenceReq:
		c.signalServer.HandlePresenceRequest(c)
	default:
		c.log.Printf("ignoring unknown event %q from connection %q", ev.Event, c.id)
	}
}

func (c *Client) decode(raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		c.log.Println("error parsing payload:", err)
		c.queueEvent(ErrBadPayload("malformed payload"))
		return false
	}

	return true
}

func (c *Client) decodeCall(raw json.RawMessage) (CallPayload, bool) {
	var p CallPayload
	if !c.decode(raw, &p) {
		return p, false
	}
	if p.ToUserId == "" || p.RoomName == "" {
		c.queueEvent(ErrBadPayload("call events require toUserId and roomName"))
		return p, false
	}

	return p, true
}

func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		c.log.Printf("send channel full for connection %q, dropping %s", c.id, ev.Event)
		return false
	}

	return true
}

func (c *Client) writeFrame(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs exactly once per connection, synchronously with the read pump
// exiting, so room and presence events fire with accurate membership.
func (c *Client) cleanup() {
	c.signalServer.DeRegisterClient(c)
	c.stopClient()
}

func (c *Client) addRoom(roomId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.rooms, roomId)
}

func (c *Client) inRoom(roomId string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.rooms[roomId]
	return ok
}

func (c *Client) joinedRooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for roomId := range c.rooms {
		rooms = append(rooms, roomId)
	}

	return rooms
}
