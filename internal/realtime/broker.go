package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/metrics"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
)

// adminRole is the rules.Principal.Role value the auth subsystem assigns
// admin principals (internal/auth.KindAdmin); rules stays free of any
// dependency on the auth package's own types, so the convention is
// duplicated here rather than imported.
const adminRole = "admin"

// Broker holds the connected clients, a subscriber index keyed by topic,
// and an inactivity sweeper.
type Broker struct {
	registry *schema.Registry
	rules    *rules.Engine
	cfg      config.RealtimeConfig

	mu        sync.RWMutex
	clients   map[string]*Client
	bySubject map[string]map[string]struct{} // topic string -> set of client IDs

	done chan struct{}
}

func NewBroker(registry *schema.Registry, rulesEngine *rules.Engine, cfg config.RealtimeConfig) *Broker {
	return &Broker{
		registry:  registry,
		rules:     rulesEngine,
		cfg:       cfg,
		clients:   make(map[string]*Client),
		bySubject: make(map[string]map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the inactivity sweeper. Call once at startup.
func (b *Broker) Start(ctx context.Context) {
	go b.sweepLoop(ctx)
}

// Stop halts the sweeper and closes every connected client.
func (b *Broker) Stop() {
	close(b.done)

	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*Client)
	b.bySubject = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Connect allocates a new client and registers it. The caller streams
// c.Frames() out as SSE frames.
func (b *Broker) Connect() *Client {
	c := newClient(uuid.NewString(), b.cfg.ClientBufferSize)

	b.mu.Lock()
	b.clients[c.ID] = c
	b.mu.Unlock()

	payload, _ := json.Marshal(connectPayload{ClientID: c.ID})
	c.enqueue(formatSSE("PB_CONNECT", payload))

	metrics.UpdateRealtimeStats(b.clientCount(), b.subscriptionCount())
	log.Debug().Str("client_id", c.ID).Msg("realtime client connected")
	return c
}

// Disconnect removes a client and its index entries.
func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, clientID)
	for topic := range c.subscription {
		b.unindexLocked(topic, clientID)
	}
	b.mu.Unlock()

	c.close()
	metrics.UpdateRealtimeStats(b.clientCount(), b.subscriptionCount())
	log.Debug().Str("client_id", clientID).Msg("realtime client disconnected")
}

// Subscribe replaces a client's subscription set. Unknown topics are
// dropped silently; an empty slice clears every subscription.
func (b *Broker) Subscribe(clientID string, principal *rules.Principal, rawTopics []string) error {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	b.mu.Unlock()
	if !ok {
		return apierr.NotFound("unknown realtime client")
	}

	if !c.captureAuth(principal) {
		return apierr.Forbidden("realtime client already authenticated under a different principal")
	}

	topics := make([]Topic, 0, len(rawTopics))
	for _, raw := range rawTopics {
		if t, ok := ParseTopic(raw); ok {
			topics = append(topics, t)
		}
	}

	b.mu.Lock()
	for topic := range c.subscription {
		b.unindexLocked(topic, clientID)
	}
	c.setSubscriptions(topics)
	for _, t := range topics {
		b.indexLocked(t.String(), clientID)
	}
	b.mu.Unlock()

	metrics.UpdateRealtimeStats(b.clientCount(), b.subscriptionCount())
	return nil
}

// HasSubscriptions implements schema.SubscriptionChecker: it reports
// whether any client still subscribes to collection, wildcard or
// record-specific.
func (b *Broker) HasSubscriptions(collection string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, clients := range b.bySubject {
		t, ok := ParseTopic(topic)
		if !ok || len(clients) == 0 {
			continue
		}
		if t.Collection == collection {
			return true
		}
	}
	return false
}

func (b *Broker) indexLocked(topic, clientID string) {
	set, ok := b.bySubject[topic]
	if !ok {
		set = make(map[string]struct{})
		b.bySubject[topic] = set
	}
	set[clientID] = struct{}{}
}

func (b *Broker) unindexLocked(topic, clientID string) {
	set, ok := b.bySubject[topic]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(b.bySubject, topic)
	}
}

// Broadcast fans a record mutation out to every subscribed client, filtered
// by the collection's view/list rule against each client's captured auth.
// It never blocks or returns an error to the caller: send failures just
// drop the offending client.
func (b *Broker) Broadcast(ev Event) {
	recordID, _ := ev.Record["id"].(string)

	candidates := b.candidateClients(ev.Collection, recordID)
	if len(candidates) == 0 {
		return
	}

	col, ok := b.registry.GetCollection(ev.Collection)
	if !ok {
		return
	}

	frame := sseFrame("", ev)

	for clientID, wildcard := range candidates {
		b.mu.RLock()
		c, ok := b.clients[clientID]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		if !b.canDeliver(c, col, ev, wildcard) {
			continue
		}

		if !c.enqueue(frame) {
			log.Debug().Str("client_id", clientID).Msg("realtime send buffer full, dropping client")
			b.Disconnect(clientID)
		}
	}
}

// candidateClients returns clientID -> isWildcardSubscriber for every
// client subscribed either to collection/recordID or collection/*.
func (b *Broker) candidateClients(collection, recordID string) map[string]bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]bool)
	if recordID != "" {
		for id := range b.bySubject[Topic{Collection: collection, RecordID: recordID}.String()] {
			out[id] = false
		}
	}
	for id := range b.bySubject[Topic{Collection: collection, RecordID: "*"}.String()] {
		out[id] = true
	}
	return out
}

func (b *Broker) canDeliver(c *Client, col *schema.Collection, ev Event, wildcard bool) bool {
	if b.rules == nil {
		return true
	}

	auth := c.authSnapshot()
	isAdmin := auth != nil && auth.Role == adminRole

	op := rules.OpView
	if wildcard {
		op = rules.OpList
	}

	err := b.rules.CheckAccess(col.Name, op, rules.PredicateContext{Record: ev.Record, Auth: auth}, isAdmin)
	return err == nil
}

// Stats is a point-in-time snapshot of broker load, exposed to the health
// and stats endpoints.
type Stats struct {
	Connections   int
	Subscriptions int
}

func (b *Broker) Stats() Stats {
	return Stats{Connections: b.clientCount(), Subscriptions: b.subscriptionCount()}
}

func (b *Broker) clientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broker) subscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, set := range b.bySubject {
		total += len(set)
	}
	return total
}

func (b *Broker) sweepLoop(ctx context.Context) {
	interval := b.cfg.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweep()
		case <-b.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep evicts clients idle past cfg.InactivityTimeout.
func (b *Broker) sweep() {
	timeout := b.cfg.InactivityTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	cutoff := time.Now().Add(-timeout)

	b.mu.RLock()
	var stale []string
	for id, c := range b.clients {
		if c.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		log.Debug().Str("client_id", id).Msg("evicting inactive realtime client")
		b.Disconnect(id)
	}
}

func sseFrame(event string, ev Event) []byte {
	payload, _ := json.Marshal(struct {
		Action string         `json:"action"`
		Record map[string]any `json:"record"`
	}{Action: ev.Action, Record: ev.Record})

	return formatSSE(event, payload)
}

func formatSSE(event string, data []byte) []byte {
	var buf []byte
	if event != "" {
		buf = append(buf, "event: "+event+"\n"...)
	}
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf
}
