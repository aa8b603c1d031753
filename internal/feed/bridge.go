package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/eleven-am/buzzer-backend/internal/room"
	"github.com/redis/go-redis/v9"
)

const subscriberBuffer = 16

// Bridge fans a room's change feed out to in-process subscribers. One redis
// pub/sub subscription is held per room with at least one observer; every
// observer of a room sees the same channel, so all of them observe state
// transitions in commit order.
type Bridge struct {
	redis  *redis.Client
	store  *room.Store
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomFeed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type roomFeed struct {
	pubsub *redis.PubSub
	subs   map[*Subscription]struct{}
}

type Subscription struct {
	events chan room.Event
	bridge *Bridge
	code   string
}

func (s *Subscription) Events() <-chan room.Event {
	return s.events
}

// Unsubscribe detaches the observer and closes its channel. Safe to call
// more than once, and after the room was deleted.
func (s *Subscription) Unsubscribe() {
	s.bridge.mu.Lock()
	defer s.bridge.mu.Unlock()
	s.bridge.dropLocked(s.code, s)
}

func NewBridge(redisClient *redis.Client, store *room.Store, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		redis:  redisClient,
		store:  store,
		logger: logger.With("component", "feed_bridge"),
		rooms:  make(map[string]*roomFeed),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe attaches an observer to a room. Snapshot-listener semantics: the
// current room document and player list are delivered first, then every
// committed change. The subscription is established before the snapshot is
// read, so a commit racing the attach is at worst delivered twice, never
// lost; events carry full documents, so re-delivery is harmless.
func (b *Bridge) Subscribe(ctx context.Context, code string) (*Subscription, error) {
	sub := &Subscription{
		events: make(chan room.Event, subscriberBuffer),
		bridge: b,
		code:   code,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rf := b.rooms[code]
	if rf == nil {
		pubsub := b.redis.Subscribe(b.ctx, room.ChannelKey(code))
		// Wait for the subscription confirmation so no commit published
		// after this point can be missed.
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, err
		}
		rf = &roomFeed{
			pubsub: pubsub,
			subs:   make(map[*Subscription]struct{}),
		}
		b.rooms[code] = rf

		b.wg.Add(1)
		go b.pump(code, pubsub)
	}
	rf.subs[sub] = struct{}{}

	// Snapshot after the subscription is live, enqueued under the lock so
	// no pumped event can precede it on the observer's channel.
	r, err := b.store.GetRoom(ctx, code)
	if err != nil {
		b.dropLocked(code, sub)
		return nil, err
	}
	players, err := b.store.ListPlayers(ctx, code)
	if err != nil {
		b.dropLocked(code, sub)
		return nil, err
	}
	sub.events <- room.Event{Kind: room.EventRoom, Room: r}
	sub.events <- room.Event{Kind: room.EventPlayers, Players: players}

	return sub, nil
}

// Counts reports rooms with observers and total observers, for health stats.
func (b *Bridge) Counts() (rooms, subscribers int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rf := range b.rooms {
		subscribers += len(rf.subs)
	}
	return len(b.rooms), subscribers
}

func (b *Bridge) Close() {
	b.cancel()

	b.mu.Lock()
	for code, rf := range b.rooms {
		for sub := range rf.subs {
			close(sub.events)
		}
		rf.pubsub.Close()
		delete(b.rooms, code)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bridge) pump(code string, pubsub *redis.PubSub) {
	defer b.wg.Done()

	for msg := range pubsub.Channel() {
		var ev room.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn("bad feed payload", "room", code, "error", err)
			continue
		}

		b.fanout(code, ev)

		if ev.Kind == room.EventRoomDeleted {
			b.closeRoom(code)
			return
		}
	}
}

func (b *Bridge) fanout(code string, ev room.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rf := b.rooms[code]
	if rf == nil {
		return
	}
	for sub := range rf.subs {
		select {
		case sub.events <- ev:
		default:
			b.logger.Warn("dropping slow feed subscriber", "room", code)
			b.dropLocked(code, sub)
		}
	}
}

func (b *Bridge) closeRoom(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rf := b.rooms[code]
	if rf == nil {
		return
	}
	for sub := range rf.subs {
		close(sub.events)
	}
	rf.pubsub.Close()
	delete(b.rooms, code)
}

// dropLocked removes one subscription; caller holds b.mu. A second drop of
// the same subscription finds nothing and returns, which is what makes
// Unsubscribe idempotent.
func (b *Bridge) dropLocked(code string, sub *Subscription) {
	rf := b.rooms[code]
	if rf == nil {
		return
	}
	if _, ok := rf.subs[sub]; !ok {
		return
	}

	delete(rf.subs, sub)
	close(sub.events)

	if len(rf.subs) == 0 {
		rf.pubsub.Close()
		delete(b.rooms, code)
	}
}
