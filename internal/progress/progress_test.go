package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamcutter/patchr/internal/domain"
)

func TestQueueKeepsNewest(t *testing.T) {
	q := NewQueue(2)
	for i := 1; i <= 5; i++ {
		q.Report(domain.Progress{Percent: float64(i * 20)})
	}
	q.Close()

	var got []float64
	for p := range q.Updates() {
		got = append(got, p.Percent)
	}
	assert.Equal(t, []float64{80, 100}, got)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue(4)
	sink := q.Sink()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sink.Report(domain.Progress{Percent: float64(i)})
			}
		}()
	}

	done := make(chan int)
	go func() {
		n := 0
		for range q.Updates() {
			n++
		}
		done <- n
	}()

	wg.Wait()
	q.Close()

	select {
	case n := <-done:
		assert.Greater(t, n, 0)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestQueueReportAfterClose(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	require.NotPanics(t, func() { q.Report(domain.Progress{}) })
	q.Close()
}

func TestThrottle(t *testing.T) {
	clock := time.Unix(0, 0)
	th := NewThrottle(16 * time.Millisecond)
	th.now = func() time.Time { return clock }

	assert.True(t, th.Ready())
	clock = clock.Add(10 * time.Millisecond)
	assert.False(t, th.Ready())
	clock = clock.Add(6 * time.Millisecond)
	assert.True(t, th.Ready())
	assert.False(t, th.Ready())
}
