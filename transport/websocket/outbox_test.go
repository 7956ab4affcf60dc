package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_PushDrain(t *testing.T) {
	o := NewOutbox()

	assert.True(t, o.Push([]byte("one")))
	assert.True(t, o.Push([]byte("two")))
	assert.Equal(t, 2, o.Len())

	select {
	case <-o.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}

	msgs := o.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0]))
	assert.Equal(t, "two", string(msgs[1]))
	assert.Equal(t, 0, o.Len())
	assert.Empty(t, o.Drain())
}

func TestOutbox_Close(t *testing.T) {
	o := NewOutbox()
	o.Push([]byte("queued"))

	o.Close()
	o.Close()

	select {
	case <-o.Done():
	default:
		t.Fatal("expected done to be closed")
	}
	assert.False(t, o.Push([]byte("late")))
	assert.Len(t, o.Drain(), 1)
}

func TestOutbox_ConcurrentProducers(t *testing.T) {
	o := NewOutbox()
	const producers, perProducer = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				o.Push([]byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		select {
		case <-o.Ready():
			received += len(o.Drain())
		case <-done:
			received += len(o.Drain())
			assert.Equal(t, producers*perProducer, received)
			return
		}
	}
}

func TestOutbox_PerProducerOrder(t *testing.T) {
	o := NewOutbox()
	for i := 0; i < 50; i++ {
		o.Push([]byte{byte(i)})
	}

	for i, msg := range o.Drain() {
		assert.Equal(t, byte(i), msg[0])
	}
}
