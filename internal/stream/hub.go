package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"backend-bikeride/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "rides:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix

	subscribeTimeout = 2 * time.Second
	publishTimeout   = time.Second
	sendBuffer       = 64
)

// Hub fans ride events out to the websocket clients of a rider. With a
// Redis client it also relays events between API instances.
type Hub struct {
	redis  *redis.Client
	log    logging.Logger
	origin string

	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	pubsub *redis.PubSub
	done   chan struct{}
}

type Client struct {
	RiderID string
	Send    chan []byte
}

// envelope tags relayed payloads with the publishing instance so a hub can
// skip its own messages when they come back through Redis.
type envelope struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client, log logging.Logger) *Hub {
	h := &Hub{
		redis:   redisClient,
		log:     logging.OrNoop(log),
		origin:  uuid.NewString(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		h.subscribe()
	}
	return h
}

func (h *Hub) subscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Warn(ctx, "redis subscribe failed, relaying locally only", logging.Err(err))
		_ = pubsub.Close()
		return
	}

	h.pubsub = pubsub
	h.done = make(chan struct{})
	go h.relay(pubsub.Channel())
}

func (h *Hub) Register(riderID string) *Client {
	client := &Client{
		RiderID: riderID,
		Send:    make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[riderID] == nil {
		h.clients[riderID] = map[*Client]struct{}{}
	}
	h.clients[riderID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	riderClients, ok := h.clients[client.RiderID]
	if !ok {
		return
	}
	if _, ok := riderClients[client]; !ok {
		return
	}
	delete(riderClients, client)
	if len(riderClients) == 0 {
		delete(h.clients, client.RiderID)
	}
	close(client.Send)
}

// Clients reports how many websocket clients are attached for a rider.
func (h *Hub) Clients(riderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[riderID])
}

// Broadcast delivers payload to the rider's local clients and, when Redis is
// configured, to clients attached to other instances.
func (h *Hub) Broadcast(riderID string, payload []byte) {
	h.deliver(riderID, payload)

	if h.pubsub == nil {
		return
	}
	msg, err := json.Marshal(envelope{Origin: h.origin, Payload: payload})
	if err != nil {
		h.log.Error(context.Background(), "encode relay envelope", logging.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.redis.Publish(ctx, redisChannel(riderID), msg).Err(); err != nil {
		h.log.Warn(context.Background(), "redis publish error",
			logging.String("rider_id", riderID), logging.Err(err))
	}
}

// Close stops relaying Redis messages. Registered clients are left to their
// handlers.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	err := h.pubsub.Close()
	<-h.done
	return err
}

func (h *Hub) deliver(riderID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[riderID] {
		select {
		case client.Send <- payload:
		default:
			h.log.Debug(context.Background(), "dropping event for slow client", logging.String("rider_id", riderID))
		}
	}
}

func (h *Hub) relay(ch <-chan *redis.Message) {
	defer close(h.done)

	for msg := range ch {
		riderID := riderIDFromChannel(msg.Channel)
		if riderID == "" {
			continue
		}
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.Warn(context.Background(), "malformed relay message",
				logging.String("channel", msg.Channel), logging.Err(err))
			continue
		}
		if env.Origin == h.origin {
			continue
		}
		h.deliver(riderID, env.Payload)
	}
}

func redisChannel(riderID string) string {
	return channelPrefix + riderID + channelSuffix
}

func riderIDFromChannel(ch string) string {
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
