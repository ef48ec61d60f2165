package outbound

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(frame []byte) bool {
	args := m.Called(frame)
	return args.Bool(0)
}

func TestQueueSendsInOrder(t *testing.T) {
	s := &mockSender{}
	s.On("Send", []byte("a")).Return(true).Once()
	s.On("Send", []byte("b")).Return(true).Once()
	s.On("Send", []byte("c")).Return(true).Once()

	q := NewQueue(s)
	q.Enqueue([]byte("a"), []byte("b"), []byte("c"))

	assert.Equal(t, 0, q.Len())
	s.AssertExpectations(t)
}

func TestQueueBackpressureRetriesOnReady(t *testing.T) {
	s := &mockSender{}
	s.On("Send", []byte("a")).Return(true).Once()
	s.On("Send", []byte("b")).Return(false).Once()

	q := NewQueue(s)
	q.Enqueue([]byte("a"), []byte("b"), []byte("c"))
	assert.Equal(t, 2, q.Len(), "refused frame stays at the head")

	s.On("Send", []byte("b")).Return(true).Once()
	s.On("Send", []byte("c")).Return(true).Once()
	q.OnReady()

	assert.Equal(t, 0, q.Len())
	sent, refused := q.Stats()
	assert.Equal(t, uint64(3), sent)
	assert.Equal(t, uint64(1), refused)
	s.AssertExpectations(t)
}

func TestQueueNeverDropsUnderBackpressure(t *testing.T) {
	var delivered [][]byte
	accept := false
	q := NewQueue(SenderFunc(func(frame []byte) bool {
		if !accept {
			return false
		}
		delivered = append(delivered, frame)
		return true
	}))

	for i := 0; i < 100; i++ {
		q.Enqueue([]byte{byte(i)})
	}
	assert.Equal(t, 100, q.Len())

	accept = true
	q.OnReady()
	assert.Equal(t, 0, q.Len())
	assert.Len(t, delivered, 100)
	for i, f := range delivered {
		assert.Equal(t, byte(i), f[0])
	}
}

func TestQueueNoReentrantFlush(t *testing.T) {
	var q *Queue
	var depth, maxDepth int
	q = NewQueue(SenderFunc(func(frame []byte) bool {
		depth++
		maxDepth = max(maxDepth, depth)
		// A ready signal delivered from inside Send must not start a nested flush.
		q.OnReady()
		depth--
		return true
	}))

	q.Enqueue([]byte("a"), []byte("b"))
	assert.Equal(t, 1, maxDepth)
	assert.Equal(t, 0, q.Len())
}

func TestQueueReadyDuringRefusedSend(t *testing.T) {
	var q *Queue
	refuse := true
	var delivered []string
	q = NewQueue(SenderFunc(func(frame []byte) bool {
		if refuse {
			// The transport frees up before the refusal reaches the queue.
			refuse = false
			q.OnReady()
			return false
		}
		delivered = append(delivered, string(frame))
		return true
	}))

	q.Enqueue([]byte("last"))
	assert.Equal(t, []string{"last"}, delivered)
	assert.Equal(t, 0, q.Len())
	sent, refused := q.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(1), refused)
}

func TestQueueReadyFromOtherGoroutineDuringRefusal(t *testing.T) {
	var q *Queue
	var mu sync.Mutex
	refuse := true
	q = NewQueue(SenderFunc(func([]byte) bool {
		mu.Lock()
		defer mu.Unlock()
		if !refuse {
			return true
		}
		refuse = false
		var wg sync.WaitGroup
		wg.Go(q.OnReady)
		wg.Wait()
		return false
	}))

	q.Enqueue([]byte("only"))
	assert.Equal(t, 0, q.Len())
}

func TestQueueRefusalWithoutReadyWaits(t *testing.T) {
	attempts := 0
	q := NewQueue(SenderFunc(func([]byte) bool {
		attempts++
		return false
	}))

	q.Enqueue([]byte("a"))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, q.Len())
}

func TestQueueClear(t *testing.T) {
	q := NewQueue(SenderFunc(func([]byte) bool { return false }))
	q.Enqueue([]byte("a"), []byte("b"))
	q.Clear()
	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestQueueClearDuringSend(t *testing.T) {
	var q *Queue
	var delivered []string
	q = NewQueue(SenderFunc(func(frame []byte) bool {
		delivered = append(delivered, string(frame))
		if string(frame) == "a" {
			q.Clear()
			q.Enqueue([]byte("x"))
		}
		return true
	}))

	q.Enqueue([]byte("a"), []byte("b"))
	assert.Equal(t, []string{"a", "x"}, delivered)
	assert.Equal(t, 0, q.Len())
}
