package runtime

import (
	"fmt"
	"line-chat/contract"
	"line-chat/domain"
	"line-chat/errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recvWithin waits on Ready the same way a session does.
func recvWithin(t *testing.T, rx contract.Receiver, d time.Duration) domain.Delivery {
	t.Helper()
	deadline := time.After(d)
	for {
		if delivery, ok := rx.TryRecv(); ok {
			return delivery
		}
		select {
		case <-rx.Ready():
		case <-deadline:
			require.Fail(t, "nothing delivered in time")
			return domain.Delivery{}
		}
	}
}

func TestBus_Publish_Without_Subscribers(t *testing.T) {
	req := require.New(t)
	bus := NewBus(10)

	req.NoError(bus.Publish("nobody listens\n"))
	req.Equal(0, bus.Subscribers())
}

func TestBus_Fanout_To_All_Subscribers(t *testing.T) {
	req := require.New(t)
	bus := NewBus(10)
	rx1 := bus.Subscribe()
	rx2 := bus.Subscribe()
	req.Equal(2, bus.Subscribers())

	// When a message is published
	req.NoError(bus.Publish("alice: hello\n"))

	// Then every subscriber receives it
	for _, rx := range []contract.Receiver{rx1, rx2} {
		d := recvWithin(t, rx, time.Second)
		req.Equal(domain.MessageDelivery("alice: hello\n"), d)
	}
}

func TestBus_No_History_For_Late_Subscribers(t *testing.T) {
	req := require.New(t)
	bus := NewBus(10)
	early := bus.Subscribe()

	req.NoError(bus.Publish("*** alice has joined the chat ***\n"))
	late := bus.Subscribe()
	req.NoError(bus.Publish("alice: hi\n"))

	// The late subscriber only sees what was published after it subscribed
	d, ok := late.TryRecv()
	req.True(ok)
	req.Equal(domain.BroadcastMessage("alice: hi\n"), d.Message)
	_, ok = late.TryRecv()
	req.False(ok)

	// The early one sees both, in order
	d, _ = early.TryRecv()
	req.Equal(domain.BroadcastMessage("*** alice has joined the chat ***\n"), d.Message)
	d, _ = early.TryRecv()
	req.Equal(domain.BroadcastMessage("alice: hi\n"), d.Message)
}

func TestBus_Duplicate_Messages_Are_Delivered_Twice(t *testing.T) {
	req := require.New(t)
	bus := NewBus(10)
	rx := bus.Subscribe()

	req.NoError(bus.Publish("bob: same\n"))
	req.NoError(bus.Publish("bob: same\n"))

	for i := 0; i < 2; i++ {
		d, ok := rx.TryRecv()
		req.True(ok)
		req.Equal(domain.MessageDelivery("bob: same\n"), d)
	}
}

func TestBus_Slow_Receiver_Lags_Without_Blocking_Publisher(t *testing.T) {
	req := require.New(t)
	bus := NewBus(3)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	// When more messages than the capacity are published and the slow one never drains
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			req.NoError(bus.Publish(domain.BroadcastMessage(fmt.Sprintf("m%d\n", i))))
			d, ok := fast.TryRecv()
			req.True(ok)
			req.Equal(domain.BroadcastMessage(fmt.Sprintf("m%d\n", i)), d.Message)
		}
	}()

	select {
	case <-done:
		// Then the publisher was never blocked
	case <-time.After(time.Second):
		req.Fail("Publish blocked on a slow receiver")
	}

	// And the slow receiver is told about the gap before the survivors
	d, ok := slow.TryRecv()
	req.True(ok)
	req.Equal(domain.LaggedDelivery(7), d)
	for i := 7; i < 10; i++ {
		d, ok = slow.TryRecv()
		req.True(ok)
		req.Equal(domain.MessageDelivery(domain.BroadcastMessage(fmt.Sprintf("m%d\n", i))), d)
	}
	_, ok = slow.TryRecv()
	req.False(ok)
}

func TestBus_Close_Is_Distinct_From_Lag(t *testing.T) {
	req := require.New(t)
	bus := NewBus(1)
	rx := bus.Subscribe()

	req.NoError(bus.Publish("a\n"))
	req.NoError(bus.Publish("b\n"))
	bus.Close()

	// Then publishing fails
	req.ErrorIs(bus.Publish("c\n"), errors.ErrBusClosed)
	req.Equal(0, bus.Subscribers())

	// And the receiver drains lag, then the message, then reports Closed
	req.Equal(domain.LaggedDelivery(1), recvWithin(t, rx, time.Second))
	req.Equal(domain.MessageDelivery("b\n"), recvWithin(t, rx, time.Second))
	req.Equal(domain.ClosedDelivery(), recvWithin(t, rx, time.Second))
	req.Equal(domain.ClosedDelivery(), recvWithin(t, rx, time.Second))

	// And closing twice is harmless
	bus.Close()
}

func TestBus_Subscribe_After_Close(t *testing.T) {
	req := require.New(t)
	bus := NewBus(4)
	bus.Close()

	rx := bus.Subscribe()
	req.Equal(domain.ClosedDelivery(), recvWithin(t, rx, time.Second))
}

func TestReceiver_Close_Unsubscribes(t *testing.T) {
	req := require.New(t)
	bus := NewBus(4)
	gone := bus.Subscribe()
	stay := bus.Subscribe()
	req.NoError(bus.Publish("before\n"))

	// When a receiver leaves
	gone.Close()
	req.Equal(1, bus.Subscribers())
	req.NoError(bus.Publish("after\n"))

	// Then it never sees anything published after it left
	d, ok := gone.TryRecv()
	req.True(ok)
	req.Equal(domain.DeliveryClosed, d.Kind)

	d, _ = stay.TryRecv()
	req.Equal(domain.BroadcastMessage("before\n"), d.Message)
	d, _ = stay.TryRecv()
	req.Equal(domain.BroadcastMessage("after\n"), d.Message)

	gone.Close()
}

func TestReceiver_Idle_Without_Publish(t *testing.T) {
	req := require.New(t)
	bus := NewBus(4)
	rx := bus.Subscribe()

	_, ok := rx.TryRecv()
	req.False(ok)
	select {
	case <-rx.Ready():
		req.Fail("Ready fired without a publish")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestReceiver_Ready_Fires_On_Publish(t *testing.T) {
	req := require.New(t)
	bus := NewBus(4)
	rx := bus.Subscribe()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = bus.Publish("ping\n")
	}()

	select {
	case <-rx.Ready():
		d, ok := rx.TryRecv()
		req.True(ok)
		req.Equal(domain.BroadcastMessage("ping\n"), d.Message)
	case <-time.After(time.Second):
		req.Fail("Ready never fired")
	}
}

func TestBus_Concurrent_Publishers_Same_Order_Everywhere(t *testing.T) {
	req := require.New(t)
	const publishers, perPublisher = 8, 50
	bus := NewBus(publishers * perPublisher)
	rx1 := bus.Subscribe()
	rx2 := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				_ = bus.Publish(domain.BroadcastMessage(fmt.Sprintf("p%d-%d\n", p, i)))
			}
		}(p)
	}
	wg.Wait()

	drain := func(rx contract.Receiver) []domain.BroadcastMessage {
		var out []domain.BroadcastMessage
		for {
			d, ok := rx.TryRecv()
			if !ok {
				return out
			}
			out = append(out, d.Message)
		}
	}

	got1 := drain(rx1)
	got2 := drain(rx2)
	req.Len(got1, publishers*perPublisher)
	req.Equal(got1, got2)
}
