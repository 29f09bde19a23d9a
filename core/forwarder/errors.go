// Package forwarder implements the packet forwarder core state machine of
// §4.4: per-incoming-Prepare routing to either local termination (§4.5) or
// forwarding to a next hop, with exactly-one-terminal-response and
// idempotent dedup of simultaneous equivalent forwards (§8 P1, P7).
//
// Grounded on the teacher's core/consensus_network_adapter.go (a thin
// adapter sitting in front of a Node's message-handling, dispatching by
// message kind) and core/cross_chain_bridge.go's accept/verify/mutate-state/
// relay sequencing, adapted here from bridge-transfer relaying to ILP-style
// conditional packet forwarding.
package forwarder

// Code is a three-character ASCII error code from the §6.2 registry.
type Code [3]byte

// Registry codes (§6.2). First character: F final, R relative-to-expiry, T
// transient/retryable.
var (
	CodeGenericFinal       = Code{'F', '0', '0'}
	CodeNoRoute            = Code{'F', '0', '2'}
	CodeCapacityExceeded   = Code{'F', '0', '4'}
	CodeConditionMismatch  = Code{'F', '0', '5'}
	CodeHandlerRejection   = Code{'F', '9', '9'}
	CodeExpiredAtReceiver  = Code{'R', '0', '0'}
	CodeDownstreamTimeout  = Code{'R', '0', '1'}
	CodeInternalError      = Code{'T', '0', '0'}
	CodePeerDisconnected   = Code{'T', '0', '1'}
	CodeShuttingDown       = Code{'T', '0', '2'}
	CodeHandlerExhausted   = Code{'T', '0', '3'}
)

// Retryable reports whether c's first character marks it retryable (R or T,
// §6.2 "First character: F final, R relative to expiry, T transient").
func (c Code) Retryable() bool {
	return c[0] == 'R' || c[0] == 'T'
}

func (c Code) String() string { return string(c[:]) }

// mapHandlerCode translates a local-payload-handler domain rejection code to
// a registry Code via table; codes absent from table map to F99 (§6.4,
// §4.4 step 4: "map handler's domain code to an ErrorKind via a small
// table").
func mapHandlerCode(table map[string]Code, domainCode string) Code {
	if table != nil {
		if c, ok := table[domainCode]; ok {
			return c
		}
	}
	return CodeHandlerRejection
}
