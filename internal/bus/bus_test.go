package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		msgs := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			msgs <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-msgs:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != "test.topic" {
				t.Errorf("expected topic 'test.topic', got '%s'", msg.Topic)
			}
			if msg.ID == "" {
				t.Error("expected message ID")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		_, _ = bus.Subscribe(ctx, "isolation.one", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		_, _ = bus.Subscribe(ctx, "isolation.two", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "isolation.one", []byte("msg1"))
		waitFor(t, func() bool { return received1.Load() == 1 })

		if received2.Load() != 0 {
			t.Errorf("isolation.two should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		var count atomic.Int32
		for i := 0; i < 3; i++ {
			_, _ = bus.Subscribe(ctx, "fanout.topic", func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				return nil
			})
		}

		_ = bus.Publish(ctx, "fanout.topic", []byte("x"))
		waitFor(t, func() bool { return count.Load() == 3 })
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		_ = bus.Publish(ctx, "unsub.topic", []byte("1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic %s", sub.Topic())
		}

		_ = bus.Publish(ctx, "unsub.topic", []byte("2"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("HandlerErrorDoesNotStopSubscription", func(t *testing.T) {
		var count atomic.Int32
		_, _ = bus.Subscribe(ctx, "error.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return errors.New("boom")
		})

		_ = bus.Publish(ctx, "error.topic", []byte("1"))
		_ = bus.Publish(ctx, "error.topic", []byte("2"))
		waitFor(t, func() bool { return count.Load() == 2 })
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusPublishWaitsForRoom(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	release := make(chan struct{})
	var handled atomic.Int32
	_, _ = bus.Subscribe(context.Background(), "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		handled.Add(1)
		return nil
	})

	// First message is taken by the handler, second fills the buffer.
	_ = bus.Publish(context.Background(), "slow", []byte("1"))
	_ = bus.Publish(context.Background(), "slow", []byte("2"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Publish(ctx, "slow", []byte("3")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded on a full buffer, got %v", err)
	}

	close(release)
	waitFor(t, func() bool { return handled.Load() == 2 })
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	_, _ = bus.Subscribe(ctx, "topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = bus.Publish(ctx, "topic", []byte("x"))
		}
	}()

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	wg.Wait()

	if err := bus.Publish(ctx, "topic", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "topic", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Closing twice is a no-op.
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestNew(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Error("expected ChannelBus for channel type")
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject(domain.TopicAlertSubmitted); got != "kestrel.alert.submitted" {
		t.Errorf("unexpected subject %s", got)
	}
}
