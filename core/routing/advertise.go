package routing

import (
	"context"
	"encoding/json"

	"github.com/agent-fabric/connector/core/log"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
)

// routeTopic is the gossip topic every connector in the fabric subscribes to
// for best-effort route-change advertisement (ADDED, SPEC_FULL.md's
// routing change notification): this is an optimization hint, not a consistency
// mechanism — §4.1 routing remains locally authoritative, so a dropped or
// out-of-order message here only delays convergence, never corrupts it.
const routeTopic = "agent-fabric/routes/v1"

// RouteChange is one routing table mutation, broadcast so peers can warm
// their own tables without waiting to discover the prefix the slow way
// (a failed forward due to CodeNoRoute).
type RouteChange struct {
	Op       string `json:"op"` // "insert" or "remove"
	Prefix   string `json:"prefix"`
	NextHop  string `json:"nextHop"`
	Priority int    `json:"priority"`
}

// Advertiser publishes and consumes RouteChange gossip over a libp2p pubsub
// topic, grounded on the teacher's core/network.go broadcast-over-libp2p
// shape, here using go-libp2p-pubsub's Topic/Subscription instead of a raw
// stream per peer since the fan-out is to every connector, not one.
type Advertiser struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	self  string // pubsub own peer id, to skip self-published messages
}

// NewAdvertiser joins routeTopic on ps. selfPeerID is this host's libp2p peer
// id string, used to discard messages this node published itself (pubsub
// loops a publisher's own messages back to its local subscription).
func NewAdvertiser(ctx context.Context, ps *pubsub.PubSub, selfPeerID string) (*Advertiser, error) {
	topic, err := ps.Join(routeTopic)
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}
	return &Advertiser{topic: topic, sub: sub, self: selfPeerID}, nil
}

// Advertise publishes a single route change to every subscriber.
func (a *Advertiser) Advertise(ctx context.Context, change RouteChange) error {
	b, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return a.topic.Publish(ctx, b)
}

// Run consumes incoming RouteChange gossip until ctx is cancelled, applying
// each one to t. Run blocks; call it from its own goroutine.
func (a *Advertiser) Run(ctx context.Context, t *Table) {
	alog := log.For("routing.advertise")
	for {
		msg, err := a.sub.Next(ctx)
		if err != nil {
			return // ctx cancelled or subscription closed
		}
		if msg.ReceivedFrom.String() == a.self {
			continue
		}
		var change RouteChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			alog.WithField("error", err).Warn("dropping malformed route advertisement")
			continue
		}
		a.apply(t, change)
	}
}

func (a *Advertiser) apply(t *Table, change RouteChange) {
	switch change.Op {
	case "insert":
		_ = t.Insert(change.Prefix, change.NextHop, change.Priority)
	case "remove":
		t.Remove(change.Prefix, change.NextHop)
	}
}

// Close leaves the topic and cancels the subscription.
func (a *Advertiser) Close() {
	a.sub.Cancel()
	_ = a.topic.Close()
}
