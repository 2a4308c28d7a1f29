package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStatusPredecessors(t *testing.T) {
	t.Parallel()

	assert.Nil(t, ItemQueued.Predecessors())
	assert.Equal(t, []ItemStatus{ItemQueued}, ItemInFlight.Predecessors())
	assert.Equal(t, []ItemStatus{ItemInFlight}, ItemDone.Predecessors())
	assert.Equal(t, []ItemStatus{ItemInFlight}, ItemFailed.Predecessors())
}

func TestItemStatusTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, ItemQueued.Terminal())
	assert.False(t, ItemInFlight.Terminal())
	assert.True(t, ItemDone.Terminal())
	assert.True(t, ItemFailed.Terminal())
}

func TestItemCounts_Add(t *testing.T) {
	t.Parallel()

	var c ItemCounts
	c.Add(ItemQueued, 3)
	c.Add(ItemInFlight, 1)
	c.Add(ItemDone, 5)
	c.Add(ItemFailed, 2)

	assert.Equal(t, 11, c.Total)
	assert.Equal(t, c.Total, c.Queued+c.InFlight+c.Done+c.Failed)
}

func TestQuota_Lookups(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(4), Quota{RemainingCents: 100}.Lookups(25))
	assert.Equal(t, int64(0), Quota{RemainingCents: 15}.Lookups(25))
	assert.Equal(t, int64(0), Quota{RemainingCents: -10}.Lookups(25))
	assert.Equal(t, int64(-1), Quota{Unlimited: true}.Lookups(25))
	assert.Equal(t, int64(-1), Quota{RemainingCents: 10}.Lookups(0))
}
