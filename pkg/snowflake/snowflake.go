// Package snowflake issues time-ordered message ids that are unique per node.
package snowflake

import (
	"fmt"
	"sync"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
	now  func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake node %d out of range [0, %d]", node, nodeMax)
	}
	return &Node{
		node: node,
		now:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate never returns a value smaller than a previously returned one, even
// when the wall clock steps backwards.
func (n *Node) Generate() model.MessageID {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// sequence exhausted for this millisecond
			for now <= n.last {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}
	n.last = now

	return model.MessageID(((now - epoch) << timeShift) | (n.node << nodeShift) | n.step)
}

// Time extracts the creation time encoded in id.
func Time(id model.MessageID) time.Time {
	return time.UnixMilli((int64(id) >> timeShift) + epoch).UTC()
}
