// Package alias implements the per-app AliasMap (spec section 3): the
// mapping from a personal channel to the concrete channel names it
// expands to on subscribe.
package alias

import (
	"strings"
	"sync"
)

// Map is a per-app AliasMap, guarded by its own lock since it is read on
// every personal-channel subscribe and written whenever a personal
// subscription record is added or removed.
type Map struct {
	mu     sync.RWMutex
	byChan map[string][]string // "personal-<user_id>" -> [channel]
}

// New creates an empty AliasMap.
func New() *Map {
	return &Map{byChan: make(map[string][]string)}
}

// Add appends channel to the alias list for personalChannel, idempotently.
func (m *Map) Add(personalChannel, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.byChan[personalChannel] {
		if existing == channel {
			return
		}
	}
	m.byChan[personalChannel] = append(m.byChan[personalChannel], channel)
}

// Remove deletes channel from the alias list for personalChannel.
func (m *Map) Remove(personalChannel, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.byChan[personalChannel]
	out := list[:0]
	for _, existing := range list {
		if existing != channel {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		delete(m.byChan, personalChannel)
		return
	}
	m.byChan[personalChannel] = out
}

// Get returns a copy of the alias list for personalChannel.
func (m *Map) Get(personalChannel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.byChan[personalChannel]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// PersonalChannelFor returns the virtual channel name for a user_id, the
// key this map is addressed by ("personal-" + user_id).
func PersonalChannelFor(userID string) string {
	return "personal-" + userID
}

// UserIDFromPersonalChannel strips the "personal-" prefix, the inverse of
// PersonalChannelFor.
func UserIDFromPersonalChannel(personalChannel string) string {
	return strings.TrimPrefix(personalChannel, "personal-")
}

// UserIDsFor returns the user_ids whose personal channel has channel in its
// alias list, used to generate per-subscriber assoc rows when an event on
// channel is persisted (spec section 4.2, "trigger" step 2).
func (m *Map) UserIDsFor(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for personal, list := range m.byChan {
		for _, c := range list {
			if c == channel {
				out = append(out, UserIDFromPersonalChannel(personal))
				break
			}
		}
	}
	return out
}
