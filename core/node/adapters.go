package node

import (
	"github.com/agent-fabric/connector/core/adminapi"
	"github.com/agent-fabric/connector/core/ledger"
	"github.com/agent-fabric/connector/core/routing"
	"github.com/agent-fabric/connector/core/session"
)

// peerLister adapts *session.Manager to adminapi.PeerLister: adminapi
// intentionally depends on its own small interface rather than importing
// core/session directly, so the two packages' row types are converted here.
type peerLister struct{ m *session.Manager }

func peerListerOf(m *session.Manager) adminapi.PeerLister { return peerLister{m} }

func (p peerLister) Peers() []adminapi.PeerSummary {
	rows := p.m.Peers()
	out := make([]adminapi.PeerSummary, len(rows))
	for i, r := range rows {
		out[i] = adminapi.PeerSummary{
			NodeID:   r.NodeID,
			Endpoint: r.Endpoint,
			State:    r.State,
			LastRxAt: r.LastRxAt,
			LastTxAt: r.LastTxAt,
		}
	}
	return out
}

// routeLister adapts *routing.Table to adminapi.RouteLister.
type routeLister struct{ t *routing.Table }

func routeListerOf(t *routing.Table) adminapi.RouteLister { return routeLister{t} }

func (r routeLister) Routes() []adminapi.RouteInfo {
	rows := r.t.All()
	out := make([]adminapi.RouteInfo, len(rows))
	for i, rt := range rows {
		out[i] = adminapi.RouteInfo{Prefix: rt.Prefix, NextHop: rt.NextHop, Priority: rt.Priority}
	}
	return out
}

// channelLookup adapts *ledger.Ledger to adminapi.ChannelLookup.
type channelLookup struct{ l *ledger.Ledger }

func channelLookupOf(l *ledger.Ledger) adminapi.ChannelLookup { return channelLookup{l} }

func (c channelLookup) Channel(peerID, chainTag string) (adminapi.ChannelInfo, bool) {
	e, ok := c.l.Entry(ledger.Key{PeerID: peerID, ChainTag: chainTag})
	if !ok {
		return adminapi.ChannelInfo{}, false
	}
	return adminapi.ChannelInfo{
		Deposit:              e.Deposit.String(),
		OwedToPeer:           e.OwedToPeer.String(),
		OwedFromPeer:         e.OwedFromPeer.String(),
		Nonce:                e.Nonce,
		HighestReceivedNonce: e.HighestReceivedNonce,
		SettlementPending:    e.SettlementPending,
	}, true
}
