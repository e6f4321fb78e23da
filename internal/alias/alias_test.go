package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddIsIdempotent(t *testing.T) {
	m := New()
	personal := PersonalChannelFor("u1")

	m.Add(personal, "orders")
	m.Add(personal, "orders")

	assert.Equal(t, []string{"orders"}, m.Get(personal))
}

func TestRemoveDeletesEmptyEntry(t *testing.T) {
	m := New()
	personal := PersonalChannelFor("u1")

	m.Add(personal, "orders")
	m.Remove(personal, "orders")

	assert.Empty(t, m.Get(personal))
}

func TestUserIDsForFindsEveryAliasingUser(t *testing.T) {
	m := New()
	m.Add(PersonalChannelFor("u1"), "orders")
	m.Add(PersonalChannelFor("u2"), "orders")
	m.Add(PersonalChannelFor("u2"), "news")

	assert.ElementsMatch(t, []string{"u1", "u2"}, m.UserIDsFor("orders"))
	assert.Equal(t, []string{"u2"}, m.UserIDsFor("news"))
	assert.Empty(t, m.UserIDsFor("nothing-aliases-this"))
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	m := New()
	personal := PersonalChannelFor("u1")
	m.Add(personal, "orders")

	got := m.Get(personal)
	got[0] = "mutated"

	assert.Equal(t, []string{"orders"}, m.Get(personal))
}
