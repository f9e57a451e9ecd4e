package kafka

import (
	"sort"
	"sync"

	"github.com/segmentio/kafka-go"
)

type topicPartition struct {
	topic     string
	partition int
}

// offsetTracker orders commits per partition. A settled message is committed only
// once every message fetched before it on the same partition has been settled too,
// so the group position never moves past a message still in flight.
type offsetTracker struct {
	mu      sync.Mutex
	fetched map[topicPartition][]int64 // unsettled or blocked, ascending
	settled map[topicPartition]map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		fetched: map[topicPartition][]int64{},
		settled: map[topicPartition]map[int64]kafka.Message{},
	}
}

func partitionOf(m kafka.Message) topicPartition {
	return topicPartition{topic: m.Topic, partition: m.Partition}
}

func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tp := partitionOf(m)
	offs := t.fetched[tp]
	i := sort.Search(len(offs), func(i int) bool { return offs[i] >= m.Offset })
	if i < len(offs) && offs[i] == m.Offset {
		// refetched after a rebalance
		return
	}
	offs = append(offs, 0)
	copy(offs[i+1:], offs[i:])
	offs[i] = m.Offset
	t.fetched[tp] = offs
}

// settle marks m done and returns the highest message that is now safe to commit
// for its partition. ok is false while an earlier offset is still outstanding.
// Callers hold t.mu.
func (t *offsetTracker) settle(m kafka.Message) (kafka.Message, bool) {
	tp := partitionOf(m)
	done := t.settled[tp]
	if done == nil {
		done = map[int64]kafka.Message{}
		t.settled[tp] = done
	}
	done[m.Offset] = m

	offs := t.fetched[tp]
	var (
		commit kafka.Message
		ok     bool
	)
	for len(offs) > 0 {
		sm, isDone := done[offs[0]]
		if !isDone {
			break
		}
		delete(done, offs[0])
		commit, ok = sm, true
		offs = offs[1:]
	}
	t.fetched[tp] = offs
	return commit, ok
}
