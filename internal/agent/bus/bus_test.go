package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
)

func setupBus(t *testing.T) *Bus {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return New(log)
}

func TestOnDeliversMatchingType(t *testing.T) {
	b := setupBus(t)
	var got []*event.Event
	b.On("text_delta", func(e *event.Event) { got = append(got, e) })

	b.Emit(event.New("text_delta", "agent-1", nil))
	b.Emit(event.New("message_stop", "agent-1", nil))

	require.Len(t, got, 1)
	assert.Equal(t, "text_delta", got[0].Type)
}

func TestOnTypesAndOnAny(t *testing.T) {
	b := setupBus(t)
	var typed, all []string
	b.OnTypes([]string{"a", "b"}, func(e *event.Event) { typed = append(typed, e.Type) })
	b.OnAny(func(e *event.Event) { all = append(all, e.Type) })

	b.EmitBatch([]*event.Event{
		event.New("a", "agent-1", nil),
		event.New("b", "agent-1", nil),
		event.New("c", "agent-1", nil),
	})

	assert.Equal(t, []string{"a", "b"}, typed)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestOnMapRemovesAll(t *testing.T) {
	b := setupBus(t)
	var count int
	remove := b.OnMap(map[string]Handler{
		"a": func(*event.Event) { count++ },
		"b": func(*event.Event) { count++ },
	})
	assert.Equal(t, 2, b.SubscriberCount())

	remove()
	assert.Equal(t, 0, b.SubscriberCount())
	b.Emit(event.New("a", "agent-1", nil))
	assert.Equal(t, 0, count)
}

func TestPriorityOrdering(t *testing.T) {
	b := setupBus(t)
	var order []string
	b.On("x", func(*event.Event) { order = append(order, "low") }, WithPriority(-1))
	b.On("x", func(*event.Event) { order = append(order, "first") })
	b.On("x", func(*event.Event) { order = append(order, "second") })
	b.On("x", func(*event.Event) { order = append(order, "high") }, WithPriority(10))

	b.Emit(event.New("x", "agent-1", nil))

	// Higher priorities first; ties follow registration order.
	assert.Equal(t, []string{"high", "first", "second", "low"}, order)
}

func TestFilterSkipsHandler(t *testing.T) {
	b := setupBus(t)
	var got []string
	b.OnAny(func(e *event.Event) { got = append(got, e.AgentID) },
		WithFilter(func(e *event.Event) bool { return e.AgentID == "agent-1" }))

	b.Emit(event.New("x", "agent-1", nil))
	b.Emit(event.New("x", "agent-2", nil))

	assert.Equal(t, []string{"agent-1"}, got)
}

func TestFilterPanicSkipsHandler(t *testing.T) {
	b := setupBus(t)
	var count int
	b.On("x", func(*event.Event) { count++ },
		WithFilter(func(*event.Event) bool { panic("boom") }))
	b.On("x", func(*event.Event) { count += 10 })

	b.Emit(event.New("x", "agent-1", nil))

	// The panicking filter drops its own handler only.
	assert.Equal(t, 10, count)
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := setupBus(t)
	var count int
	b.Once("x", func(*event.Event) { count++ })

	b.Emit(event.New("x", "agent-1", nil))
	b.Emit(event.New("x", "agent-1", nil))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestOnceRemovedEvenOnPanic(t *testing.T) {
	b := setupBus(t)
	var count int
	b.Once("x", func(*event.Event) {
		count++
		panic("boom")
	})

	b.Emit(event.New("x", "agent-1", nil))
	b.Emit(event.New("x", "agent-1", nil))

	assert.Equal(t, 1, count)
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := setupBus(t)
	var reached bool
	b.On("x", func(*event.Event) { panic("boom") })
	b.On("x", func(*event.Event) { reached = true })

	b.Emit(event.New("x", "agent-1", nil))

	assert.True(t, reached)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	b := setupBus(t)
	var second int
	var removeSecond func()
	b.On("x", func(*event.Event) { removeSecond() })
	removeSecond = b.On("x", func(*event.Event) { second++ })

	b.Emit(event.New("x", "agent-1", nil))
	b.Emit(event.New("x", "agent-1", nil))

	// Removed by the first handler before its own delivery.
	assert.Equal(t, 0, second)
}

func TestDestroy(t *testing.T) {
	b := setupBus(t)
	var count int
	b.On("x", func(*event.Event) { count++ })

	b.Destroy()
	assert.True(t, b.Destroyed())
	assert.Equal(t, 0, b.SubscriberCount())

	// Emits and subscribes on a destroyed bus are warning no-ops.
	b.Emit(event.New("x", "agent-1", nil))
	remove := b.On("x", func(*event.Event) { count++ })
	remove()
	b.Emit(event.New("x", "agent-1", nil))
	assert.Equal(t, 0, count)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	b := setupBus(t)
	var mu sync.Mutex
	var got int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.On("x", func(*event.Event) {
				mu.Lock()
				got++
				mu.Unlock()
			})
		}()
		go func() {
			defer wg.Done()
			b.Emit(event.New("x", "agent-1", nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, b.SubscriberCount())
}
