package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bloodsos/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096

	MessageJoinHospital        = "join_hospital"
	MessageLeaveHospital       = "leave_hospital"
	MessageDonorLocationUpdate = "donor_location_update"
)

// LocationUpdate is the payload of a donor_location_update message.
type LocationUpdate struct {
	DonorID   string   `json:"donor_id"`
	RequestID string   `json:"request_id"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

// LocationSink applies a donor's streamed position.
type LocationSink func(ctx context.Context, update LocationUpdate) error

type inboundMessage struct {
	Type       string          `json:"type"`
	HospitalID string          `json:"hospital_id"`
	Data       json.RawMessage `json:"data"`
}

type Client struct {
	id string
	// UserID is empty only when the handshake was not authenticated.
	UserID     string
	privileged bool
	hub        *Hub
	conn       *websocket.Conn
	onLocation LocationSink
	timing     pumpTiming
	log        *logger.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

type pumpTiming struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func NewClient(hub *Hub, conn *websocket.Conn, bufferSize int, onLocation LocationSink, log *logger.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	id := uuid.NewString()
	return &Client{
		id:         id,
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, bufferSize),
		onLocation: onLocation,
		timing:     pumpTiming{pingInterval: 54 * time.Second, pongTimeout: 60 * time.Second},
		log:        log.WithField("client_id", id),
	}
}

func (c *Client) ID() string {
	return c.id
}

// mayActAs reports whether the connection may join the room of, or stream
// positions for, the user id. Hospitals join their own room and donors stream
// their own position.
func (c *Client) mayActAs(id string) bool {
	return c.UserID == "" || c.privileged || c.UserID == id
}

// trySend never blocks. It reports false only when the buffer is full.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump owns the connection's reads. A missed pong deadline or any read
// error ends it, and the client leaves its room.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.timing.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.timing.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.timing.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) handleMessage(message []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(EventError, "", map[string]interface{}{"message": "malformed message"})
		return
	}

	switch msg.Type {
	case MessageJoinHospital:
		hospitalID := msg.HospitalID
		if hospitalID == "" && len(msg.Data) > 0 {
			var data struct {
				HospitalID string `json:"hospital_id"`
			}
			_ = json.Unmarshal(msg.Data, &data)
			hospitalID = data.HospitalID
		}
		if hospitalID == "" {
			c.reply(EventError, "", map[string]interface{}{"message": "hospital_id is required"})
			return
		}
		if !c.mayActAs(hospitalID) {
			c.log.WithHospitalID(hospitalID).Warn("Rejected join for another hospital")
			c.reply(EventError, hospitalID, map[string]interface{}{"message": "forbidden"})
			return
		}
		c.hub.Join(hospitalID, c)
		c.reply(EventJoined, hospitalID, map[string]interface{}{"client_id": c.id})

	case MessageLeaveHospital:
		hospitalID, _ := c.hub.HospitalOf(c)
		c.hub.Leave(c)
		c.reply(EventLeft, hospitalID, map[string]interface{}{})

	case MessageDonorLocationUpdate:
		if err := c.handleLocation(msg.Data); err != nil {
			c.reply(EventError, "", map[string]interface{}{"message": err.Error()})
		}

	default:
		c.reply(EventError, "", map[string]interface{}{"message": "unknown message type: " + msg.Type})
	}
}

func (c *Client) handleLocation(raw json.RawMessage) error {
	if c.onLocation == nil {
		return errors.New("location updates are not accepted here")
	}
	var update LocationUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return errors.New("malformed location update")
	}
	if update.DonorID == "" || update.Lat == nil || update.Lng == nil {
		return errors.New("donor_id, lat and lng are required")
	}
	if !c.mayActAs(update.DonorID) {
		return errors.New("forbidden")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.onLocation(ctx, update); err != nil {
		c.log.WithDonorID(update.DonorID).WithError(err).Debug("Location update rejected")
		return err
	}
	return nil
}

// reply goes to this client only and is dropped when its buffer is full.
func (c *Client) reply(eventType, hospitalID string, data map[string]interface{}) {
	payload, err := json.Marshal(Event{
		Type:       eventType,
		HospitalID: hospitalID,
		Timestamp:  c.hub.now().Unix(),
		Data:       data,
	})
	if err != nil {
		return
	}
	c.trySend(payload)
}
