package eventbus

import "testing"

func TestReplayDeliveredOnJoin(t *testing.T) {
	b := New(2, 8)
	b.Broadcast("a")
	b.Broadcast("b")
	b.Broadcast("c") // replay buffer now holds only "b", "c"

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	first := <-sub.Events()
	second := <-sub.Events()
	if first != "b" || second != "c" {
		t.Fatalf("replay = %v, %v, want b, c", first, second)
	}
}

func TestBroadcastOrderPerSubscriber(t *testing.T) {
	b := New(0, 8)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Broadcast(1)
	b.Broadcast(2)
	b.Broadcast(3)

	for _, want := range []int{1, 2, 3} {
		if got := <-sub.Events(); got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFullInboxRemovesSubscriber(t *testing.T) {
	b := New(1, 1)
	sub := b.Subscribe()

	b.Broadcast("first")
	b.Broadcast("second") // inbox of size 1 already holds "first"; this drops the subscriber

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be removed after a full inbox, count = %d", b.SubscriberCount())
	}

	buffered := 0
	for range sub.Events() {
		buffered++
	}
	if buffered != 1 {
		t.Fatalf("expected exactly the one buffered event before closure, got %d", buffered)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(0, 4)
	sub := b.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe()
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d", b.SubscriberCount())
	}
}
