package broker

import "strings"

// Channel name prefixes (spec section 3, "Channel name").
const (
	prefixPrivate  = "private-"
	prefixPresence = "presence-"
	prefixPeer     = "peer-"
	prefixPersonal = "personal-"
)

func isPresence(channel string) bool { return strings.HasPrefix(channel, prefixPresence) }

func isPersonal(channel string) bool { return strings.HasPrefix(channel, prefixPersonal) }

// requiresAuth reports whether channel needs a signed admission token:
// every kind except plain public channels.
func requiresAuth(channel string) bool {
	return strings.HasPrefix(channel, prefixPrivate) ||
		strings.HasPrefix(channel, prefixPresence) ||
		strings.HasPrefix(channel, prefixPeer) ||
		strings.HasPrefix(channel, prefixPersonal)
}
