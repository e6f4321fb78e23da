package broker

import "strings"

// peerChannelName computes the pairwise peer channel for presence channel
// "presence-X" between users a and b: "peer-X:min(a,b)_max(a,b)" (spec
// section 4.2, "Peer channel naming"). Sorting the pair guarantees both
// endpoints compute the same name and at most one channel per pair exists.
func peerChannelName(presenceChannel, a, b string) string {
	suffix := strings.TrimPrefix(presenceChannel, prefixPresence)
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return prefixPeer + suffix + ":" + lo + "_" + hi
}
