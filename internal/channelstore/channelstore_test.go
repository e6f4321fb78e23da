package channelstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinPublicChannelBidirectionalIndex(t *testing.T) {
	s := New()
	s.Join("sock-1", "news", ChannelData{})

	assert.Contains(t, s.Sockets("news"), "sock-1")
	assert.Contains(t, s.ChannelsOf("sock-1"), "news")
}

func TestJoinPresenceFirstMemberReportedNew(t *testing.T) {
	s := New()
	isNew := s.Join("sock-1", "presence-chat", ChannelData{UserID: "u1"})
	assert.True(t, isNew, "first connection for a user must be reported new")

	isNew = s.Join("sock-2", "presence-chat", ChannelData{UserID: "u1"})
	assert.False(t, isNew, "second connection of the same user is not a new member")
}

func TestLeaveLastConnectionReportsDeparture(t *testing.T) {
	s := New()
	s.Join("sock-1", "presence-chat", ChannelData{UserID: "u1"})
	s.Join("sock-2", "presence-chat", ChannelData{UserID: "u1"})

	left, uid := s.Leave("sock-1", "presence-chat")
	assert.False(t, left)
	assert.Empty(t, uid)

	left, uid = s.Leave("sock-2", "presence-chat")
	assert.True(t, left)
	assert.Equal(t, "u1", uid)

	_, ok := s.Snapshot("presence-chat")
	assert.False(t, ok, "channel entry must be deleted once no connections remain")
}

func TestUserCountMatchesDistinctUsers(t *testing.T) {
	s := New()
	s.Join("sock-1", "presence-chat", ChannelData{UserID: "u1"})
	s.Join("sock-2", "presence-chat", ChannelData{UserID: "u2"})
	s.Join("sock-3", "presence-chat", ChannelData{UserID: "u2"})

	members, ok := s.Snapshot("presence-chat")
	assert.True(t, ok)
	assert.Len(t, members, 2)
}

func TestLeaveAllRemovesConnectionFromEveryIndex(t *testing.T) {
	s := New()
	s.Join("sock-1", "news", ChannelData{})
	s.Join("sock-1", "presence-chat", ChannelData{UserID: "u1"})

	departures := s.LeaveAll("sock-1")
	assert.Equal(t, "u1", departures["presence-chat"])
	assert.Empty(t, s.ChannelsOf("sock-1"))
	assert.NotContains(t, s.Sockets("news"), "sock-1")
}

func TestRecentEventsBoundedRing(t *testing.T) {
	s := New()
	for i := 0; i < defaultRecentEvents+5; i++ {
		s.PushRecent("news", "tick", "{}")
	}
	assert.Len(t, s.RecentEvents("news"), defaultRecentEvents)
}

func TestPeerCapableSocketsExcludesSelfAndNonPeerMembers(t *testing.T) {
	s := New()
	s.Join("sock-a", "presence-game", ChannelData{UserID: "alice", Peer: true})
	s.Join("sock-b", "presence-game", ChannelData{UserID: "bob", Peer: true})
	s.Join("sock-c", "presence-game", ChannelData{UserID: "carol", Peer: false})

	peers := s.PeerCapableSockets("presence-game", "alice")
	assert.Contains(t, peers, "sock-b")
	assert.NotContains(t, peers, "sock-a", "the joining user's own sockets must be excluded")
	assert.NotContains(t, peers, "sock-c", "members without peer=true must be excluded")
}
