package workflow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLogAppend(t *testing.T) {
	var seen []Message
	log := NewMessageLog(func(m Message) { seen = append(seen, m) })

	first := log.System("hello")
	second := log.Append("A", "hi")

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, SystemSender, first.Sender)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, []Message{first, second}, log.Messages())
	assert.Equal(t, log.Messages(), seen)
	assert.Equal(t, 2, log.Len())
}

func TestMessageLogMessagesIsCopy(t *testing.T) {
	log := NewMessageLog(nil)
	log.System("x")
	msgs := log.Messages()
	msgs[0].Body = "changed"
	assert.Equal(t, "x", log.Messages()[0].Body)
}

func TestMessageLogConcurrentWriters(t *testing.T) {
	const writers, perWriter = 8, 100
	log := NewMessageLog(nil)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sender := fmt.Sprintf("w%d", w)
			for i := 0; i < perWriter; i++ {
				log.Append(sender, fmt.Sprintf("%d", i))
			}
		}(w)
	}
	wg.Wait()

	msgs := log.Messages()
	require.Len(t, msgs, writers*perWriter)

	next := make(map[string]int)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.ID)
		assert.Equal(t, fmt.Sprintf("%d", next[m.Sender]), m.Body, "writer %s out of order", m.Sender)
		next[m.Sender]++
		if i > 0 {
			assert.False(t, m.Timestamp.Before(msgs[i-1].Timestamp))
		}
	}
}
