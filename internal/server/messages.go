package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Inbound event names.
const (
	EvIdentify      = "identify"
	EvIdentifyAlias = "identify-user"
	EvJoin          = "join"
	EvLeave         = "leave"
	EvMessage       = "message"
	EvCallInvite    = "call:invite"
	EvCallOffer     = "call:offer"
	EvCallAnswer    = "call:answer"
	EvCallDecline   = "call:decline"
	EvCallEnd       = "call:end"
	EvCallICE       = "call:ice"
	EvPresenceReq   = "presence:request"
)

// Outbound event names.
const (
	EvNotification      = "notification"
	EvOnline            = "online"
	EvCallIncoming      = "call:incoming"
	EvCallAnswered      = "call:answered"
	EvCallDeclined      = "call:declined"
	EvCallEnded         = "call:ended"
	EvCallUnavailable   = "call:unavailable"
	EvCallTimeout       = "call:timeout"
	EvPresenceUpdate    = "presence:update"
	EvPresenceList      = "presence:online-list"
	EvSessionSuperseded = "session:superseded"
	EvError             = "error"
)

// ClientEvent is the envelope for every inbound frame.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the envelope for every outbound frame.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type IdentifyPayload struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Role     string `json:"role,omitempty"`
}

type JoinPayload struct {
	GroupId string `json:"groupId"`
}

type LeavePayload struct {
	GroupId string `json:"groupId"`
}

type MessagePayload struct {
	GroupId   string `json:"groupId"`
	Text      string `json:"text"`
	MessageId string `json:"messageId,omitempty"`
	AuthorId  string `json:"authorId,omitempty"`
}

// CallPayload covers every inbound call:* event. Sdp and Candidate are
// opaque to the server and relayed as-is.
type CallPayload struct {
	ToUserId       string          `json:"toUserId"`
	RoomName       string          `json:"roomName"`
	CallerId       string          `json:"callerId,omitempty"`
	CallerName     string          `json:"callerName,omitempty"`
	Sdp            json.RawMessage `json:"sdp,omitempty"`
	PricePerMinute float64         `json:"pricePerMinute,omitempty"`
	Candidate      json.RawMessage `json:"candidate,omitempty"`
}

type Notification struct {
	GroupId string    `json:"groupId"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

type OnlineCount struct {
	GroupId string `json:"groupId"`
	Count   int    `json:"count"`
}

type ChatMessage struct {
	GroupId   string    `json:"groupId"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	MessageId string    `json:"messageId"`
	AuthorId  string    `json:"authorId"`
	Time      time.Time `json:"time"`
}

type CallIncoming struct {
	RoomName       string          `json:"roomName"`
	PricePerMinute float64         `json:"pricePerMinute,omitempty"`
	CallerName     string          `json:"callerName"`
	CallerId       string          `json:"callerId"`
	Sdp            json.RawMessage `json:"sdp,omitempty"`
}

// CallEvent is the payload for call:answered, call:declined, call:ended,
// call:unavailable, call:timeout and call:ice.
type CallEvent struct {
	RoomName  string          `json:"roomName"`
	ToUserId  string          `json:"toUserId,omitempty"`
	Sdp       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type PresenceUpdate struct {
	UserId string `json:"userId"`
	Status string `json:"status"`
}

type PresenceList struct {
	UserIds []string `json:"userIds"`
}

type SessionSuperseded struct {
	UserId string `json:"userId"`
}

type ErrorInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func NewNotification(groupId, text string) *ServerEvent {
	return &ServerEvent{
		Event: EvNotification,
		Data: Notification{
			GroupId: groupId,
			Text:    text,
			Time:    Now(),
		},
	}
}

func NewOnlineCount(groupId string, count int) *ServerEvent {
	return &ServerEvent{
		Event: EvOnline,
		Data: OnlineCount{
			GroupId: groupId,
			Count:   count,
		},
	}
}

func NewChatMessage(groupId, from, text, messageId, authorId string) *ServerEvent {
	return &ServerEvent{
		Event: EvMessage,
		Data: ChatMessage{
			GroupId:   groupId,
			From:      from,
			Text:      text,
			MessageId: messageId,
			AuthorId:  authorId,
			Time:      Now(),
		},
	}
}

func NewPresenceUpdate(userId string, online bool) *ServerEvent {
	status := "offline"
	if online {
		status = "online"
	}

	return &ServerEvent{
		Event: EvPresenceUpdate,
		Data: PresenceUpdate{
			UserId: userId,
			Status: status,
		},
	}
}

func ErrBadPayload(reason string) *ServerEvent {
	return &ServerEvent{
		Event: EvError,
		Data: ErrorInfo{
			Code:   http.StatusBadRequest,
			Reason: reason,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
