package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker releases offsets for commit in fetch order. A message is only
// committable once every message fetched before it on the same partition has
// completed, so an interrupted message holds back everything after it.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]*trackedMessage
}

type trackedMessage struct {
	msg  kafka.Message
	done bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[int][]*trackedMessage)}
}

// track must be called in fetch order.
func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	t.pending[msg.Partition] = append(t.pending[msg.Partition], &trackedMessage{msg: msg})
	t.mu.Unlock()
}

// complete marks msg handled and returns the newest message that can now be
// committed, if any.
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	queue := t.pending[msg.Partition]
	for _, m := range queue {
		if m.msg.Offset == msg.Offset {
			m.done = true
			break
		}
	}

	var (
		last  kafka.Message
		ready bool
	)
	for len(queue) > 0 && queue[0].done {
		last, ready = queue[0].msg, true
		queue = queue[1:]
	}
	t.pending[msg.Partition] = queue
	return last, ready
}
