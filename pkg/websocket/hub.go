package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bloodsos/pkg/logger"
)

const (
	EventDonorAccepted = "donor_accepted"
	EventLiveTracking  = "live_tracking"
	EventJoined        = "joined_hospital"
	EventLeft          = "left_hospital"
	EventError         = "error"
)

// Event is the wire shape of everything the hub sends to clients.
type Event struct {
	Type       string                 `json:"type"`
	HospitalID string                 `json:"hospital_id,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
	Data       map[string]interface{} `json:"data"`
}

// Relay carries encoded events between instances. While a relay is attached
// the hub publishes through it and relies on the relay to call Deliver.
type Relay interface {
	Publish(ctx context.Context, hospitalID string, payload []byte) error
}

type room struct {
	mu         sync.Mutex
	members    map[*Client]struct{}
	emptySince time.Time
}

// Hub groups clients into rooms keyed by hospital id. The hub lock guards the
// room map, the membership index and the relay; each room serializes its own sends.
// Lock order is hub, then room.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	memberships map[*Client]string

	grace time.Duration
	relay Relay
	log   *logger.Logger
	now   func() time.Time
}

func NewHub(grace time.Duration, log *logger.Logger) *Hub {
	return &Hub{
		rooms:       make(map[string]*room),
		memberships: make(map[*Client]string),
		grace:       grace,
		log:         log,
		now:         time.Now,
	}
}

// SetRelay attaches relay, or detaches the current one when relay is nil.
// Without a relay events are delivered to local members only.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

func (h *Hub) currentRelay() Relay {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relay
}

// Join moves the client into the hospital's room, leaving any previous one.
func (h *Hub) Join(hospitalID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.memberships[client]; ok {
		if current == hospitalID {
			return
		}
		h.removeLocked(current, client)
	}

	r, ok := h.rooms[hospitalID]
	if !ok {
		r = &room{members: make(map[*Client]struct{})}
		h.rooms[hospitalID] = r
	}
	r.mu.Lock()
	r.members[client] = struct{}{}
	r.emptySince = time.Time{}
	r.mu.Unlock()

	h.memberships[client] = hospitalID
}

// Leave is a no-op for clients outside any room.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.memberships[client]; ok {
		h.removeLocked(current, client)
	}
}

// Remove drops the client and closes its send channel.
func (h *Hub) Remove(client *Client) {
	h.Leave(client)
	client.closeSend()
}

func (h *Hub) removeLocked(hospitalID string, client *Client) {
	delete(h.memberships, client)
	r, ok := h.rooms[hospitalID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.members, client)
	if len(r.members) == 0 {
		r.emptySince = h.now()
	}
	r.mu.Unlock()
}

func (h *Hub) HospitalOf(client *Client) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hospitalID, ok := h.memberships[client]
	return hospitalID, ok
}

func (h *Hub) RoomSize(hospitalID string) int {
	h.mu.RLock()
	r, ok := h.rooms[hospitalID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}

// Sweep removes rooms that have been empty for longer than the grace period.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for hospitalID, r := range h.rooms {
		r.mu.Lock()
		idle := len(r.members) == 0 && now.Sub(r.emptySince) > h.grace
		r.mu.Unlock()
		if idle {
			delete(h.rooms, hospitalID)
			removed++
		}
	}
	return removed
}

func (h *Hub) PublishAcceptance(hospitalID, requestID, donorID string, eta int, lat, lng float64) {
	h.publish(hospitalID, EventDonorAccepted, map[string]interface{}{
		"request_id": requestID,
		"donor_id":   donorID,
		"eta":        eta,
		"location":   map[string]float64{"lat": lat, "lng": lng},
	})
}

func (h *Hub) PublishTracking(hospitalID, donorID string, lat, lng float64) {
	h.publish(hospitalID, EventLiveTracking, map[string]interface{}{
		"donor_id": donorID,
		"lat":      lat,
		"lng":      lng,
	})
}

func (h *Hub) PublishStatus(hospitalID, requestID, donorID, eventType, status string) {
	data := map[string]interface{}{
		"request_id": requestID,
		"status":     status,
	}
	if donorID != "" {
		data["donor_id"] = donorID
	}
	h.publish(hospitalID, eventType, data)
}

func (h *Hub) publish(hospitalID, eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(Event{
		Type:       eventType,
		HospitalID: hospitalID,
		Timestamp:  h.now().Unix(),
		Data:       data,
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to encode tracking event")
		return
	}

	if relay := h.currentRelay(); relay != nil {
		err := relay.Publish(context.Background(), hospitalID, payload)
		if err == nil {
			return
		}
		h.log.WithHospitalID(hospitalID).WithError(err).Warn("Relay publish failed, delivering locally")
	}
	h.Deliver(hospitalID, payload)
}

// Deliver sends an encoded event to the room's current members without
// blocking. Members whose buffer is full are evicted and closed.
func (h *Hub) Deliver(hospitalID string, payload []byte) {
	h.mu.RLock()
	r, ok := h.rooms[hospitalID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	var zombies []*Client
	r.mu.Lock()
	for client := range r.members {
		if !client.trySend(payload) {
			zombies = append(zombies, client)
		}
	}
	r.mu.Unlock()

	for _, client := range zombies {
		h.log.WithHospitalID(hospitalID).WithField("client_id", client.ID()).Warn("Evicting slow tracking client")
		h.Remove(client)
	}
}
