package chathub

import (
	"chatcore/backend/internal/broadcast"
	"chatcore/backend/internal/metrics"
	"chatcore/backend/internal/models"
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// Hub owns group membership for the connections of this process. Every bus
// message is routed to the local members of its group from the Run goroutine,
// which is also the only place a client's send channel is written or closed.
type Hub struct {
	bus broadcast.Bus

	clients map[Client]struct{}
	groups  map[string]map[Client]struct{}

	RegisterCh   chan Client
	UnregisterCh chan Client
	PubSubCh     chan broadcast.Message

	queryCh chan func()
	done    chan struct{}
	log     *logrus.Entry
}

func NewHub(bus broadcast.Bus, logger *logrus.Logger) *Hub {
	return &Hub{
		bus:          bus,
		clients:      make(map[Client]struct{}),
		groups:       make(map[string]map[Client]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		PubSubCh:     make(chan broadcast.Message, 256),
		queryCh:      make(chan func()),
		done:         make(chan struct{}),
		log:          logger.WithField("component", "hub"),
	}
}

// Run subscribes to the bus and dispatches until ctx is cancelled. On exit every
// remaining client is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	go func() {
		err := h.bus.Subscribe(ctx, func(msg broadcast.Message) {
			select {
			case h.PubSubCh <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			h.log.WithError(err).Error("bus subscription ended")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return
		case c := <-h.RegisterCh:
			h.add(c)
		case c := <-h.UnregisterCh:
			h.remove(c)
		case msg := <-h.PubSubCh:
			h.dispatch(msg)
		case q := <-h.queryCh:
			q()
		}
	}
}

// Register hands c to the Run loop. It returns false when the hub has stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.RegisterCh <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister drops c. Unregistering twice is harmless.
func (h *Hub) Unregister(c Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
	}
}

func (h *Hub) add(c Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	for _, g := range c.Groups() {
		members, ok := h.groups[g]
		if !ok {
			members = make(map[Client]struct{})
			h.groups[g] = members
		}
		members[c] = struct{}{}
	}
	metrics.ConnectionOpened()
}

func (h *Hub) remove(c Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for _, g := range c.Groups() {
		if members, ok := h.groups[g]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.groups, g)
			}
		}
	}
	c.Close()
	metrics.ConnectionClosed()
}

func (h *Hub) dispatch(msg broadcast.Message) {
	members := h.groups[msg.Group]
	if len(members) == 0 {
		return
	}

	var header models.EventHeader
	if err := json.Unmarshal(msg.Payload, &header); err != nil {
		h.log.WithError(err).WithField("group", msg.Group).Warn("undecodable broadcast dropped")
		return
	}

	out := Outbound{Group: msg.Group, Payload: msg.Payload, Header: header}
	for c := range members {
		if skip(c, msg.Group, header) {
			continue
		}
		select {
		case c.GetSendChannel() <- out:
		default:
			// Slow consumer: drop the connection, it will catch up on reconnect.
			h.log.WithFields(logrus.Fields{"conn_id": c.ID(), "user_id": c.UserID()}).Warn("send buffer full, dropping client")
			h.remove(c)
		}
	}
}

// skip filters frames a connection must not see: a reader's own receipts.read,
// and personal-group copies of room events the connection already gets through
// its room group.
func skip(c Client, group string, header models.EventHeader) bool {
	if header.Type == models.EventReceiptsRead && header.UserID == c.UserID() {
		return true
	}
	if models.IsUserGroup(group) && header.RoomID != 0 && header.RoomID == c.RoomID() {
		return true
	}
	return false
}

// Members reports how many local connections are in group.
func (h *Hub) Members(group string) int {
	reply := make(chan int, 1)
	select {
	case h.queryCh <- func() { reply <- len(h.groups[group]) }:
		return <-reply
	case <-h.done:
		return 0
	}
}
