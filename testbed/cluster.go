package testbed

import (
	"strconv"
	"strings"
	"sync"

	"github.com/joomcode/redisguard/rediscluster/redisclusterutil"
)

// Cluster is a set of fake servers which answer CLUSTER SLOTS and reply MOVED/ASK
// for keys of slots they don't own.
type Cluster struct {
	Node []*Server

	mu    sync.Mutex
	owner [redisclusterutil.NumSlots]int
	ask   map[uint16]int
}

// keyed commands which check slot ownership; key is always first argument.
var clusterKeyed = []string{"GET", "SET", "DEL", "EXISTS", "EXPIRE", "TTL", "INCR"}

// NewCluster starts n masters, and splits slots between them evenly.
func NewCluster(n int) *Cluster {
	cl := &Cluster{ask: make(map[uint16]int)}
	cl.Node = make([]*Server, n)
	for i := range cl.Node {
		cl.Node[i] = NewServer()
	}
	per := redisclusterutil.NumSlots / n
	for slot := range cl.owner {
		no := slot / per
		if no >= n {
			no = n - 1
		}
		cl.owner[slot] = no
	}
	for i, node := range cl.Node {
		i := i
		node.Handle("CLUSTER", func(c *Client, args []string) interface{} {
			if len(args) == 0 || strings.ToUpper(args[0]) != "SLOTS" {
				return ErrReply("ERR unknown subcommand")
			}
			return cl.slotsReply()
		})
		node.Handle("ASKING", func(c *Client, args []string) interface{} {
			c.asking = true
			return "OK"
		})
		for _, cmd := range clusterKeyed {
			node.Handle(cmd, cl.guard(i, builtin(cmd)))
		}
	}
	return cl
}

// Stop stops all nodes.
func (cl *Cluster) Stop() {
	for _, n := range cl.Node {
		n.Stop()
	}
}

// Owner returns node number owning the slot.
func (cl *Cluster) Owner(slot uint16) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.owner[slot]
}

// MoveSlot changes slot owner. Previous owner will answer MOVED.
func (cl *Cluster) MoveSlot(slot uint16, to int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.owner[slot] = to
	delete(cl.ask, slot)
}

// MigrateSlot makes slot owner answer ASK redirecting to node `to`.
func (cl *Cluster) MigrateSlot(slot uint16, to int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.ask[slot] = to
}

func (cl *Cluster) guard(no int, h Handler) Handler {
	return func(c *Client, args []string) interface{} {
		asking := c.asking
		c.asking = false
		if len(args) == 0 {
			return h(c, args)
		}
		slot := redisclusterutil.Slot(args[0])
		cl.mu.Lock()
		owner := cl.owner[slot]
		askTo, migrating := cl.ask[slot]
		cl.mu.Unlock()
		switch {
		case migrating && owner == no:
			return ErrReply("ASK " + strconv.Itoa(int(slot)) + " " + cl.Node[askTo].Addr())
		case migrating && askTo == no && asking:
			return h(c, args)
		case owner != no:
			return ErrReply("MOVED " + strconv.Itoa(int(slot)) + " " + cl.Node[owner].Addr())
		}
		return h(c, args)
	}
}

func (cl *Cluster) slotsReply() []interface{} {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	var res []interface{}
	from := 0
	for slot := 1; slot <= redisclusterutil.NumSlots; slot++ {
		if slot < redisclusterutil.NumSlots && cl.owner[slot] == cl.owner[from] {
			continue
		}
		node := cl.Node[cl.owner[from]]
		res = append(res, []interface{}{
			int64(from), int64(slot - 1),
			[]interface{}{[]byte("127.0.0.1"), int64(node.Port), []byte("node" + strconv.Itoa(cl.owner[from]))},
		})
		from = slot
	}
	return res
}
