package config

// knownWeakPrivateKeys are published, well-known test/demo ed25519 seeds that
// must never back a production settlement signer (§6.6 "private keys must
// not be in a known-weak list"). This is a fixed, embedded list, not a
// key-reputation service lookup (out of scope per SPEC_FULL.md).
var knownWeakPrivateKeys = map[string]struct{}{
	"0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000": {},
	"0101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101010101": {},
	"test-key-do-not-use-in-production-0000000000000000000000000000": {},
}

func isKnownWeakKey(hexOrRaw string) bool {
	_, weak := knownWeakPrivateKeys[hexOrRaw]
	return weak
}
