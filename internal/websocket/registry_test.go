package websocket

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUnknownSubjectHasNoEntry(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.Get("nobody"))
	assert.False(t, r.IsOnline("nobody"))
	_, exists := r.subjects["nobody"]
	assert.False(t, exists)
	assert.Equal(t, Stats{}, r.Count())
}

func TestRegistryAddThenRemovePrunesSubject(t *testing.T) {
	r := NewRegistry()
	c := createTestClient(nil)

	require.True(t, r.Add("42", c))
	assert.Equal(t, []*Client{c}, r.Get("42"))

	require.True(t, r.Remove("42", c))
	assert.Empty(t, r.Get("42"))
	_, exists := r.subjects["42"]
	assert.False(t, exists, "empty subject entry should be pruned")
	assert.Equal(t, Stats{}, r.Count())
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := createTestClient(nil)

	assert.True(t, r.Add("42", c))
	assert.False(t, r.Add("42", c))

	assert.Len(t, r.Get("42"), 1)
	assert.Equal(t, Stats{Connections: 1, UniqueUsers: 1}, r.Count())
}

func TestRegistryRemoveAbsentPairIsNoop(t *testing.T) {
	r := NewRegistry()
	a := createTestClient(nil)
	b := createTestClient(nil)

	assert.False(t, r.Remove("42", a))

	r.Add("42", a)
	assert.False(t, r.Remove("42", b))
	assert.False(t, r.Remove("7", a))
	assert.Equal(t, []*Client{a}, r.Get("42"))
}

func TestRegistryMultipleDevices(t *testing.T) {
	r := NewRegistry()
	phone := createTestClient(nil)
	laptop := createTestClient(nil)
	other := createTestClient(nil)

	r.Add("42", phone)
	r.Add("42", laptop)
	r.Add("7", other)

	assert.ElementsMatch(t, []*Client{phone, laptop}, r.Get("42"))
	assert.ElementsMatch(t, []*Client{phone, laptop, other}, r.All())
	assert.ElementsMatch(t, []string{"42", "7"}, r.Subjects())
	assert.Equal(t, Stats{Connections: 3, UniqueUsers: 2}, r.Count())

	r.Remove("42", phone)
	assert.Equal(t, []*Client{laptop}, r.Get("42"))
	assert.True(t, r.IsOnline("42"))
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	c := createTestClient(nil)
	r.Add("42", c)

	snapshot := r.Get("42")
	r.Remove("42", c)

	assert.Len(t, snapshot, 1)
	assert.Nil(t, r.Get("42"))
}

func TestRegistryTransitions(t *testing.T) {
	r := NewRegistry()

	type transition struct {
		subject string
		online  bool
	}
	var got []transition
	r.OnTransition(func(subject string, online bool) {
		got = append(got, transition{subject, online})
	})

	a := createTestClient(nil)
	b := createTestClient(nil)
	r.Add("42", a)
	r.Add("42", b)
	r.Add("42", b)
	r.Remove("42", a)
	r.Remove("42", b)
	r.Remove("42", b)

	assert.Equal(t, []transition{{"42", true}, {"42", false}}, got)
}

func TestRegistryConcurrentAddsForOneSubject(t *testing.T) {
	r := NewRegistry()
	const n = 50

	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = createTestClient(nil)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			r.Add("42", c)
		}(c)
	}
	wg.Wait()

	assert.Len(t, r.Get("42"), n)
	assert.Equal(t, Stats{Connections: n, UniqueUsers: 1}, r.Count())
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := NewRegistry()
	const subjects = 20

	var wg sync.WaitGroup
	for i := 0; i < subjects; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subject := fmt.Sprintf("user-%d", i)
			c := createTestClient(nil)
			for j := 0; j < 100; j++ {
				r.Add(subject, c)
				_ = r.Get(subject)
				_ = r.Count()
				r.Remove(subject, c)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Stats{}, r.Count())
	assert.Empty(t, r.Subjects())
}
