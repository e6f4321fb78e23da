// Package channelstore implements the per-app, in-memory channel/socket
// index described in spec section 3 ("ChannelStore (per app)"). It is the
// invariant-bearing structure of the broker: every mutation goes through
// one of its exported methods so the bidirectional index, presence
// metadata, and recent-events ring stay consistent.
//
// A ChannelStore holds no network state and knows nothing about the
// WebSocket wire protocol; it is pure bookkeeping guarded by a single
// mutex, matching the "per-app lock, single-writer discipline" policy in
// spec section 5.
package channelstore

import "sync"

// ChannelData is the presence payload a socket supplies on subscribe to a
// presence channel. UserID is mandatory; the rest is opaque.
type ChannelData struct {
	UserID string
	Raw    string // original JSON, re-emitted verbatim in member_added frames
	Peer   bool
}

// Member is one (user_id -> live connections) presence entry.
type Member struct {
	UserID      string
	ChannelData ChannelData
	SocketIDs   []string
}

// ChannelInfo is the aggregated presence view of one channel.
type ChannelInfo struct {
	Channel   string
	Members   map[string]*Member // keyed by user_id
	UserCount int
}

const defaultRecentEvents = 10

// RecentEvent is one entry in a channel's bounded history ring, used by
// pusher:latest and included in subscription snapshots.
type RecentEvent struct {
	Event string
	Data  string
}

// Store is the per-app ChannelStore.
type Store struct {
	mu sync.Mutex

	socketChannels map[string]map[string]bool       // socket_id -> set<channel>
	channelSockets map[string]map[string]bool       // channel -> set<socket_id>
	channelData    map[string]map[string]ChannelData // channel -> socket_id -> data
	info           map[string]*ChannelInfo           // channel -> presence info
	recent         map[string][]RecentEvent          // channel -> bounded ring
	recentCap      int
}

// New creates an empty ChannelStore.
func New() *Store {
	return &Store{
		socketChannels: make(map[string]map[string]bool),
		channelSockets: make(map[string]map[string]bool),
		channelData:    make(map[string]map[string]ChannelData),
		info:           make(map[string]*ChannelInfo),
		recent:         make(map[string][]RecentEvent),
		recentCap:      defaultRecentEvents,
	}
}

func isPresence(channel string) bool {
	return len(channel) >= 9 && channel[:9] == "presence-"
}

// Join subscribes socketID to channel, recording data when the channel is
// a presence channel. It returns whether the (user_id) member was newly
// created — the caller uses this to decide whether to broadcast
// member_added (spec section 4.2, step 6).
func (s *Store) Join(socketID, channel string, data ChannelData) (memberIsNew bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channelSockets[channel] == nil {
		s.channelSockets[channel] = make(map[string]bool)
	}
	s.channelSockets[channel][socketID] = true

	if s.socketChannels[socketID] == nil {
		s.socketChannels[socketID] = make(map[string]bool)
	}
	s.socketChannels[socketID][channel] = true

	if !isPresence(channel) {
		return false
	}

	if s.channelData[channel] == nil {
		s.channelData[channel] = make(map[string]ChannelData)
	}
	s.channelData[channel][socketID] = data

	info := s.info[channel]
	if info == nil {
		info = &ChannelInfo{Channel: channel, Members: make(map[string]*Member)}
		s.info[channel] = info
	}

	member, existed := info.Members[data.UserID]
	if !existed {
		member = &Member{UserID: data.UserID, ChannelData: data}
		info.Members[data.UserID] = member
		info.UserCount = len(info.Members)
	}
	member.SocketIDs = append(member.SocketIDs, socketID)

	return !existed
}

// Leave unsubscribes socketID from channel. It returns whether the
// member's last connection just left (caller broadcasts member_removed)
// and, only when it did, that member's user_id.
func (s *Store) Leave(socketID, channel string) (memberLeft bool, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(socketID, channel)
}

func (s *Store) leaveLocked(socketID, channel string) (memberLeft bool, userID string) {
	if set := s.channelSockets[channel]; set != nil {
		delete(set, socketID)
		if len(set) == 0 {
			delete(s.channelSockets, channel)
		}
	}
	if set := s.socketChannels[socketID]; set != nil {
		delete(set, channel)
		if len(set) == 0 {
			delete(s.socketChannels, socketID)
		}
	}

	data, hadData := s.channelData[channel][socketID]
	if hadData {
		delete(s.channelData[channel], socketID)
		if len(s.channelData[channel]) == 0 {
			delete(s.channelData, channel)
		}
	}

	info := s.info[channel]
	if info == nil || !hadData {
		s.cleanupChannelIfEmpty(channel)
		return false, ""
	}

	member := info.Members[data.UserID]
	if member == nil {
		s.cleanupChannelIfEmpty(channel)
		return false, ""
	}

	member.SocketIDs = removeString(member.SocketIDs, socketID)
	if len(member.SocketIDs) == 0 {
		delete(info.Members, data.UserID)
		info.UserCount = len(info.Members)
	}

	left := len(member.SocketIDs) == 0
	if len(info.Members) == 0 {
		delete(s.info, channel)
	}

	s.cleanupChannelIfEmpty(channel)
	if !left {
		return false, ""
	}
	return true, data.UserID
}

// cleanupChannelIfEmpty deletes the presence entry once no sockets remain
// in the channel (spec section 3 invariant: "channelInfo[ch] is deleted").
func (s *Store) cleanupChannelIfEmpty(channel string) {
	if len(s.channelSockets[channel]) == 0 {
		delete(s.info, channel)
	}
}

// LeaveAll unsubscribes socketID from every channel it has joined, used on
// connection close (spec section 4.7). It returns the departed userID for
// each presence channel where this was the member's last connection;
// channels with no presence departure have no entry.
func (s *Store) LeaveAll(socketID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	departures := make(map[string]string)
	for channel := range s.socketChannels[socketID] {
		if left, userID := s.leaveLocked(socketID, channel); left {
			departures[channel] = userID
		}
	}
	return departures
}

// Sockets returns a copy of the socket set currently in channel.
func (s *Store) Sockets(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.channelSockets[channel]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ChannelsOf returns a copy of the channel set socketID has joined.
func (s *Store) ChannelsOf(socketID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.socketChannels[socketID]
	out := make([]string, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// IsSubscribed reports whether socketID has joined channel.
func (s *Store) IsSubscribed(socketID, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelSockets[channel][socketID]
}

// Snapshot returns the presence membership list for channel. ok is false
// for non-presence or empty channels.
func (s *Store) Snapshot(channel string) (members []Member, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.info[channel]
	if info == nil {
		return nil, false
	}
	for _, m := range info.Members {
		members = append(members, *m)
	}
	return members, true
}

// UserIDsIn returns the distinct user_ids currently present in channel,
// used to auto-wire peer channels on join (spec section 4.2, step 7).
func (s *Store) UserIDsIn(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.info[channel]
	if info == nil {
		return nil
	}
	out := make([]string, 0, len(info.Members))
	for uid := range info.Members {
		out = append(out, uid)
	}
	return out
}

// PeerCapableSockets returns the live socket IDs of every member other than
// excludeUserID whose channel_data carried peer=true, used to auto-wire
// peer channels on join (spec section 4.2, step 7).
func (s *Store) PeerCapableSockets(channel, excludeUserID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.info[channel]
	if info == nil {
		return nil
	}

	var out []string
	for uid, member := range info.Members {
		if uid == excludeUserID || !member.ChannelData.Peer {
			continue
		}
		out = append(out, member.SocketIDs...)
	}
	return out
}

// PushRecent appends an event to channel's bounded history ring.
func (s *Store) PushRecent(channel, event, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.recent[channel], RecentEvent{Event: event, Data: data})
	if len(ring) > s.recentCap {
		ring = ring[len(ring)-s.recentCap:]
	}
	s.recent[channel] = ring
}

// RecentEvents returns a copy of channel's history ring.
func (s *Store) RecentEvents(channel string) []RecentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RecentEvent, len(s.recent[channel]))
	copy(out, s.recent[channel])
	return out
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, v := range list {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
