package realtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/rules"
	"github.com/bunbase/bunbase/internal/schema"
)

func testBroker(t *testing.T, cfg config.RealtimeConfig) (*Broker, *schema.Registry, *rules.Engine) {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := database.Open(&config.DatabaseConfig{
		Path:         filepath.Join(tmpDir, "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := schema.NewRegistry(db)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("loading registry: %v", err)
	}

	rulesEngine := rules.NewEngine()

	if cfg.ClientBufferSize == 0 {
		cfg.ClientBufferSize = 16
	}

	return NewBroker(registry, rulesEngine, cfg), registry, rulesEngine
}

func createPostsCollection(t *testing.T, ctx context.Context, registry *schema.Registry, viewRule, listRule string) {
	t.Helper()
	if _, err := registry.CreateCollection(ctx, "posts", schema.KindBase, nil); err != nil {
		t.Fatalf("creating collection: %v", err)
	}
	if err := registry.UpdateRules(ctx, "posts", schema.Rules{View: viewRule, List: listRule}); err != nil {
		t.Fatalf("updating collection rules: %v", err)
	}
}

func TestConnectAssignsClientIDAndSendsConnectFrame(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	c := b.Connect()
	if c.ID == "" {
		t.Fatal("expected a non-empty client id")
	}

	select {
	case frame := <-c.Frames():
		if !contains(frame, "PB_CONNECT") || !contains(frame, c.ID) {
			t.Errorf("unexpected connect frame: %s", frame)
		}
	default:
		t.Fatal("expected a PB_CONNECT frame to be queued immediately")
	}
}

func TestSubscribeUnknownClientIsNotFound(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	if err := b.Subscribe("ghost", nil, []string{"posts/*"}); err == nil {
		t.Fatal("expected subscribing an unknown client to fail")
	}
}

func TestSubscribeDropsInvalidTopicsSilently(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	c := b.Connect()
	if err := b.Subscribe(c.ID, nil, []string{"posts/*", "not-a-topic", "posts/abc123"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := c.subscriptionCount(); got != 2 {
		t.Errorf("expected 2 valid subscriptions to survive, got %d", got)
	}
}

func TestSubscribeEmptyClearsSubscriptions(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	c := b.Connect()
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Subscribe(c.ID, nil, []string{}); err != nil {
		t.Fatalf("subscribe (clear): %v", err)
	}
	if got := c.subscriptionCount(); got != 0 {
		t.Errorf("expected subscriptions to be cleared, got %d", got)
	}
}

func TestSubscribeTwiceIdenticalTopicsIsIdempotent(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	c := b.Connect()
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe again: %v", err)
	}
	if got := c.subscriptionCount(); got != 1 {
		t.Errorf("expected one subscription after an identical re-subscribe, got %d", got)
	}
}

func TestSubscribeRejectsPrincipalMismatch(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	c := b.Connect()
	alice := &rules.Principal{ID: "alice", Role: ""}
	bob := &rules.Principal{ID: "bob", Role: ""}

	if err := b.Subscribe(c.ID, alice, []string{"posts/*"}); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := b.Subscribe(c.ID, bob, []string{"posts/*"}); err == nil {
		t.Fatal("expected a different principal on the same client to be rejected")
	}
}

func TestBroadcastDeliversToWildcardSubscriberWhenListRuleAllows(t *testing.T) {
	b, registry, rulesEngine := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	ctx := context.Background()
	createPostsCollection(t, ctx, registry, "", "status = 'published'")
	col, _ := registry.GetCollection("posts")
	if err := rulesEngine.LoadCollection(col); err != nil {
		t.Fatalf("loading rule: %v", err)
	}

	c := b.Connect()
	<-c.Frames() // drain PB_CONNECT
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Broadcast(Event{Action: "create", Collection: "posts", Record: map[string]any{"id": "p1", "status": "published"}})

	select {
	case frame := <-c.Frames():
		if !contains(frame, "p1") {
			t.Errorf("expected the broadcast frame to carry the record, got %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a delta frame for a matching wildcard subscription")
	}
}

func TestBroadcastSkipsWhenListRuleDenies(t *testing.T) {
	b, registry, rulesEngine := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	ctx := context.Background()
	createPostsCollection(t, ctx, registry, "", "status = 'published'")
	col, _ := registry.GetCollection("posts")
	if err := rulesEngine.LoadCollection(col); err != nil {
		t.Fatalf("loading rule: %v", err)
	}

	c := b.Connect()
	<-c.Frames()
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Broadcast(Event{Action: "create", Collection: "posts", Record: map[string]any{"id": "p1", "status": "draft"}})

	select {
	case frame := <-c.Frames():
		t.Fatalf("expected no frame for a record the list rule denies, got %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHasSubscriptionsReflectsActiveTopics(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{})
	defer b.Stop()

	if b.HasSubscriptions("posts") {
		t.Fatal("expected no subscriptions before any client subscribes")
	}

	c := b.Connect()
	if err := b.Subscribe(c.ID, nil, []string{"posts/*"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if !b.HasSubscriptions("posts") {
		t.Error("expected HasSubscriptions to report the active wildcard subscription")
	}

	b.Disconnect(c.ID)
	if b.HasSubscriptions("posts") {
		t.Error("expected disconnecting the last subscriber to clear HasSubscriptions")
	}
}

func TestSweepEvictsInactiveClients(t *testing.T) {
	b, _, _ := testBroker(t, config.RealtimeConfig{InactivityTimeout: time.Millisecond})
	c := b.Connect()
	time.Sleep(5 * time.Millisecond)

	b.sweep()

	if _, ok := b.clients[c.ID]; ok {
		t.Error("expected the inactive client to be evicted")
	}
}

func contains(frame []byte, substr string) bool {
	return len(frame) > 0 && indexOf(string(frame), substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
