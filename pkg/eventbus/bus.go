// Package eventbus implements the Event Bus: a multi-subscriber
// broadcast with a bounded per-subscriber inbox and a small replay
// buffer for subscribers that join mid-stream.
package eventbus

import "sync"

const defaultInboxSize = 32

// DefaultReplaySize mirrors the teacher's habit of naming its magic
// numbers; spec §4.G defaults to 2.
const DefaultReplaySize = 2

// subscriber is one inbox plus the channel identity used to remove it.
type subscriber struct {
	id    uint64
	inbox chan any
}

// Bus fans out events (of any type) to any number of subscribers in
// publication order. A slow subscriber whose inbox is full is
// removed rather than allowed to block the publisher.
type Bus struct {
	mu         sync.Mutex
	subs       map[uint64]*subscriber
	nextID     uint64
	replay     []any
	replaySize int
	inboxSize  int
}

// New returns a Bus with the given replay-buffer size and per-
// subscriber inbox capacity. replaySize <= 0 defaults to
// DefaultReplaySize; inboxSize <= 0 defaults to 32. inboxSize is raised
// to replaySize when smaller, so a joining subscriber's replay always
// fits in its inbox.
func New(replaySize, inboxSize int) *Bus {
	if replaySize <= 0 {
		replaySize = DefaultReplaySize
	}
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	if inboxSize < replaySize {
		inboxSize = replaySize
	}
	return &Bus{
		subs:       make(map[uint64]*subscriber),
		replaySize: replaySize,
		inboxSize:  inboxSize,
	}
}

// Subscription is a handle a caller uses to drain events and, when
// done, to unsubscribe.
type Subscription struct {
	id    uint64
	inbox chan any
	bus   *Bus
}

// Events returns the channel to receive from. It is closed when the
// bus removes the subscriber (full inbox) or when Unsubscribe is
// called.
func (s *Subscription) Events() <-chan any { return s.inbox }

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.bus.remove(s.id) }

// Subscribe registers a new subscriber and immediately delivers the
// current replay buffer into its inbox before returning, matching the
// "joining subscriber sees replay buffer before any new event"
// guarantee of §4.G.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	inbox := make(chan any, b.inboxSize)
	for _, ev := range b.replay {
		inbox <- ev // bus-sized inbox is always >= replay size by construction
	}
	b.subs[id] = &subscriber{id: id, inbox: inbox}
	b.mu.Unlock()

	return &Subscription{id: id, inbox: inbox, bus: b}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.inbox)
	}
	b.mu.Unlock()
}

// Broadcast appends event to the replay buffer and pushes it to every
// current subscriber's inbox without blocking. A subscriber whose
// inbox is full is dropped (its channel closed) rather than allowed to
// stall the publisher.
func (b *Bus) Broadcast(event any) {
	b.mu.Lock()
	b.replay = append(b.replay, event)
	if len(b.replay) > b.replaySize {
		b.replay = b.replay[len(b.replay)-b.replaySize:]
	}
	snapshot := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.inbox <- event:
		default:
			b.remove(sub.id)
		}
	}
}

// SubscriberCount reports the number of currently connected
// subscribers, for status reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
