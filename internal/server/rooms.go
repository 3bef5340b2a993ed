package server

import "sync"

// RoomLeft describes one room a connection was removed from during a
// disconnect cascade.
type RoomLeft struct {
	RoomId  string
	Count   int
	Deleted bool
}

// RoomTable tracks which connections are joined to each named room. Rooms
// are created implicitly on first join and deleted when their member set
// becomes empty. A room's member set and each member's joined set are kept
// mutually inverse under the table lock.
type RoomTable struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Join adds c to roomId and returns the member count after the join and
// whether the room was created by it.
func (rt *RoomTable) Join(c *Client, roomId string) (count int, created bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	members, ok := rt.rooms[roomId]
	if !ok {
		members = make(map[*Client]struct{})
		rt.rooms[roomId] = members
		created = true
	}

	members[c] = struct{}{}
	c.addRoom(roomId)

	return len(members), created
}

// Leave removes c from roomId. Leaving a room the connection is not in is a
// no-op. It returns the remaining member count, whether the connection was
// removed and whether the room was deleted because it became empty.
func (rt *RoomTable) Leave(c *Client, roomId string) (count int, removed, deleted bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.leave(c, roomId)
}

func (rt *RoomTable) leave(c *Client, roomId string) (count int, removed, deleted bool) {
	members, ok := rt.rooms[roomId]
	if !ok {
		return 0, false, false
	}

	if _, ok := members[c]; !ok {
		return len(members), false, false
	}

	delete(members, c)
	c.delRoom(roomId)

	if len(members) == 0 {
		delete(rt.rooms, roomId)
		return 0, true, true
	}

	return len(members), true, false
}

// LeaveAll removes c from every room it is joined to and returns the rooms
// left, for the caller to fire the same notifications as an explicit leave.
func (rt *RoomTable) LeaveAll(c *Client) []RoomLeft {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var left []RoomLeft
	for _, roomId := range c.joinedRooms() {
		count, removed, deleted := rt.leave(c, roomId)
		if removed {
			left = append(left, RoomLeft{RoomId: roomId, Count: count, Deleted: deleted})
		}
	}

	return left
}

// Broadcast delivers ev to every connection currently in roomId, including
// the sender. Holding the table lock for the whole fan-out keeps per-room
// delivery in submission order.
func (rt *RoomTable) Broadcast(roomId string, ev *ServerEvent) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for member := range rt.rooms[roomId] {
		member.queueEvent(ev)
	}
}

func (rt *RoomTable) Count(roomId string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return len(rt.rooms[roomId])
}

func (rt *RoomTable) NumRooms() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return len(rt.rooms)
}
