package main

import (
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yzoe76300/Battle-of-Yavin/protocol"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBufSize    = 256
	defaultMsgRate = 120 // per second; a peer sends turret updates at ~30Hz plus shots
	maxNameLen     = 20
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	codec      protocol.Codec
	remoteAddr string
	limiter    *rate.Limiter
	limited    bool

	// Room state, owned by ReadPump
	roomID   string
	userID   string
	username string
}

// NewClient creates a new Client speaking codec
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, codec protocol.Codec) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         GenerateUUID(),
		codec:      codec,
		remoteAddr: remoteAddr,
		limiter:    rate.NewLimiter(hub.msgRate, hub.msgBurst),
	}
}

// ID returns the connection id
func (c *Client) ID() string { return c.id }

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			if !c.limited {
				log.Printf("rate limit exceeded for %s, dropping messages", c.remoteAddr)
				c.hub.journal.Track(EvtRateLimited, c.roomID, c.userID, "")
			}
			c.limited = true
			continue
		}
		c.limited = false

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send encodes a message with the client's codec and queues it
func (c *Client) Send(t string, payload any) {
	data, err := c.codec.Marshal(t, payload)
	if err != nil {
		log.Printf("marshal %s error: %v", t, err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes for the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	in, err := c.codec.Unmarshal(raw)
	if err != nil {
		log.Printf("unmarshal error from %s: %v", c.id, err)
		return
	}

	switch in.T {
	case protocol.MsgJoin:
		c.handleJoin(in)
	case protocol.MsgLeave:
		c.handleLeave(in)
	case protocol.MsgJoinMatchmaking:
		c.handleJoinMatchmaking(in)
	case protocol.MsgCancelMatchmaking:
		c.handleCancelMatchmaking(in)
	default:
		if !Routable(in.T) {
			return
		}
		if err := c.hub.relay.Forward(c, c.roomID, in, c.codec); err != nil {
			log.Printf("relay %s from %s dropped: %v", in.T, c.id, err)
			return
		}
		c.hub.journal.CountRelayed(1)
	}
}

func (c *Client) sendError(msg string) {
	c.Send(protocol.MsgError, protocol.ErrorMsg{Msg: msg})
}

func (c *Client) handleJoin(in protocol.InEnvelope) {
	var msg protocol.JoinMsg
	if err := c.codec.UnmarshalPayload(in, &msg); err != nil {
		return
	}
	if msg.Token != "" && c.hub.auth != nil {
		u, err := c.hub.auth.Verify(msg.Token)
		if err != nil {
			c.sendError("invalid token")
			return
		}
		msg.UserID, msg.Username = u.ID, u.Username
	}
	if err := msg.Validate(); err != nil {
		c.sendError("roomId and userId are required")
		return
	}
	msg.Username = truncateName(msg.Username)

	// a connection sits in at most one room
	if c.roomID != "" && c.roomID != msg.RoomID {
		c.hub.registry.Leave(c.roomID, c)
		c.roomID = ""
	}

	res, err := c.hub.registry.Join(c, JoinRequest{
		RoomID:   msg.RoomID,
		UserID:   msg.UserID,
		Username: msg.Username,
		Role:     msg.Role,
	})
	if errors.Is(err, ErrRoomFull) {
		c.Send(protocol.MsgRoomFull, protocol.RoomFullMsg{RoomID: msg.RoomID, Message: "Room is full"})
		c.hub.journal.Track(EvtRoomFull, msg.RoomID, msg.UserID, "")
		return
	}
	if err != nil {
		c.sendError(err.Error())
		return
	}

	c.roomID = msg.RoomID
	c.userID = msg.UserID
	c.username = msg.Username

	if res.Displaced != nil {
		res.Displaced.Send(protocol.MsgError, protocol.ErrorMsg{Msg: "slot taken over by a newer connection"})
		c.hub.journal.Track(EvtTakeover, msg.RoomID, msg.UserID, `{"role":"`+res.Role+`"}`)
	}
	c.hub.journal.Track(EvtRoomJoin, msg.RoomID, msg.UserID, `{"role":"`+res.Role+`"}`)
}

func (c *Client) handleLeave(in protocol.InEnvelope) {
	var msg protocol.LeaveMsg
	if len(in.D) > 0 {
		if err := c.codec.UnmarshalPayload(in, &msg); err != nil {
			return
		}
	}
	if c.roomID == "" || (msg.RoomID != "" && msg.RoomID != c.roomID) {
		return
	}
	if c.hub.registry.Leave(c.roomID, c) {
		c.hub.journal.Track(EvtRoomLeave, c.roomID, c.userID, "")
	}
	c.roomID = ""
}

func (c *Client) handleJoinMatchmaking(in protocol.InEnvelope) {
	var msg protocol.JoinMatchmakingMsg
	if err := c.codec.UnmarshalPayload(in, &msg); err != nil {
		return
	}
	if msg.UserID == "" {
		msg.UserID = c.userID
	}
	if msg.UserID == "" {
		c.sendError("userId is required")
		return
	}
	msg.Username = truncateName(msg.Username)
	c.hub.matchmaker.Enqueue(c, msg.UserID, msg.Username)
}

func (c *Client) handleCancelMatchmaking(in protocol.InEnvelope) {
	var msg protocol.CancelMatchmakingMsg
	if err := c.codec.UnmarshalPayload(in, &msg); err != nil {
		return
	}
	c.hub.matchmaker.Cancel(c, msg.UserID)
}
