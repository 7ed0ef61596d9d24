package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(8)
	defer unsubAll()
	tasks, unsubTasks := b.Subscribe(8, "task.*")
	defer unsubTasks()
	exact, unsubExact := b.Subscribe(8, "task.failed")
	defer unsubExact()

	b.Publish(Event{Type: "task.started"})
	b.Publish(Event{Type: "task.failed"})
	b.Publish(Event{Type: "config.reloaded"})

	if got := drain(all); len(got) != 3 {
		t.Fatalf("unfiltered subscriber got %d events, want 3", len(got))
	}
	if got := drain(tasks); len(got) != 2 || got[0].Type != "task.started" {
		t.Fatalf("prefix subscriber got %v", got)
	}
	if got := drain(exact); len(got) != 1 || got[0].Type != "task.failed" {
		t.Fatalf("exact subscriber got %v", got)
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if b.Dropped() != 99 {
		t.Fatalf("Dropped = %d, want 99", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: "x"})
}

func TestPublishStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "x"})
	e := <-ch
	if e.Time.IsZero() {
		t.Fatal("Publish should stamp a zero Time")
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
