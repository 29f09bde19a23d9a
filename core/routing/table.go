// Package routing implements the longest-prefix routing table (§4.1).
//
// Grounded on the teacher's connection_pool.go (mutex-guarded map + a small
// exported constructor/methods shape) and on common_structs.go's pattern of
// keeping package-level data structures lean and logged through logrus.
package routing

import (
	"sync"

	"github.com/agent-fabric/connector/core/log"
	"github.com/agent-fabric/connector/internal/ilpaddr"
	"github.com/sirupsen/logrus"
)

// Route is a single routing table entry (§3).
type Route struct {
	Prefix    string // raw dotted prefix; "" denotes the catch-all default route
	NextHop   string // PeerId
	Priority  int
	inserted  uint64 // insertion sequence, for stable tie-break
	isDefault bool
}

type trieNode struct {
	children map[string]*trieNode
	routes   []*Route // routes terminating exactly at this node (same prefix, possibly several peers/priorities)
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// Table is a label-trie longest-prefix routing table. Safe for concurrent use:
// reads take the read lock, writes take the write lock (§5 "reads parallel,
// writes serialized with reader exclusion").
type Table struct {
	mu      sync.RWMutex
	root    *trieNode
	def     []*Route // catch-all default routes, prefix == ""
	seq     uint64
	log     *logrus.Entry
}

// New creates an empty routing table.
func New() *Table {
	return &Table{
		root: newTrieNode(),
		log:  log.For("routing"),
	}
}

// Insert adds a route. prefix == "" registers a catch-all default route.
// nextHop need not resolve to a live session at insertion time (§4.1).
func (t *Table) Insert(prefix string, nextHop string, priority int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	r := &Route{Prefix: prefix, NextHop: nextHop, Priority: priority, inserted: t.seq}

	if prefix == "" {
		r.isDefault = true
		t.def = append(t.def, r)
		t.log.WithFields(logrus.Fields{"nextHop": nextHop, "priority": priority}).Info("inserted default route")
		return nil
	}

	addr, err := ilpaddr.Parse(prefix)
	if err != nil {
		return err
	}
	node := t.root
	for _, label := range addr.Labels() {
		child, ok := node.children[label]
		if !ok {
			child = newTrieNode()
			node.children[label] = child
		}
		node = child
	}
	node.routes = append(node.routes, r)
	t.log.WithFields(logrus.Fields{"prefix": prefix, "nextHop": nextHop, "priority": priority}).Info("inserted route")
	return nil
}

// Remove deletes the route matching (prefix, nextHop) exactly, across all
// priorities registered for that pair.
func (t *Table) Remove(prefix string, nextHop string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prefix == "" {
		t.def = filterRoutes(t.def, nextHop)
		return
	}
	addr, err := ilpaddr.Parse(prefix)
	if err != nil {
		return
	}
	node := t.root
	for _, label := range addr.Labels() {
		child, ok := node.children[label]
		if !ok {
			return
		}
		node = child
	}
	node.routes = filterRoutes(node.routes, nextHop)
}

func filterRoutes(routes []*Route, nextHop string) []*Route {
	out := routes[:0]
	for _, r := range routes {
		if r.NextHop != nextHop {
			out = append(out, r)
		}
	}
	return out
}

// RemoveAllForPeer deletes every route whose next hop is peerId, across the
// whole table.
func (t *Table) RemoveAllForPeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.def = filterRoutes(t.def, peerID)
	removeForPeer(t.root, peerID)
}

func removeForPeer(n *trieNode, peerID string) {
	n.routes = filterRoutes(n.routes, peerID)
	for _, c := range n.children {
		removeForPeer(c, peerID)
	}
}

// Lookup returns the next hop for addr, choosing the entry with the longest
// label-aligned strict-prefix match; ties are broken by highest priority,
// then by earliest insertion order (§4.1, P3, P8). Returns ("", false) when
// no entry matches.
func (t *Table) Lookup(addr ilpaddr.Address) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// A deeper (longer) prefix always wins over a shallower one, regardless
	// of priority; priority and insertion order only break ties among
	// routes registered at the very same depth (§4.1).
	best := bestAtDepth(t.def)
	node := t.root
	for _, label := range addr.Labels() {
		child, ok := node.children[label]
		if !ok {
			break
		}
		node = child
		if b := bestAtDepth(node.routes); b != nil {
			best = b
		}
	}
	if best == nil {
		return "", false
	}
	return best.NextHop, true
}

// All returns every registered route, for the §6.3 GET /admin/routes listing.
// Order is unspecified beyond default routes preceding prefixed ones.
func (t *Table) All() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, 0, len(t.def))
	for _, r := range t.def {
		out = append(out, *r)
	}
	collectRoutes(t.root, &out)
	return out
}

func collectRoutes(n *trieNode, out *[]Route) {
	for _, r := range n.routes {
		*out = append(*out, *r)
	}
	for _, c := range n.children {
		collectRoutes(c, out)
	}
}

// bestAtDepth picks the winner among routes registered at a single prefix
// depth: highest priority, then earliest insertion order.
func bestAtDepth(routes []*Route) *Route {
	var best *Route
	for _, r := range routes {
		if best == nil || r.Priority > best.Priority ||
			(r.Priority == best.Priority && r.inserted < best.inserted) {
			best = r
		}
	}
	return best
}
