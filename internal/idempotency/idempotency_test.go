package idempotency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chat4all/backbone/internal/idempotency"
)

func TestCheckAndAddDetectsDuplicate(t *testing.T) {
	seen := idempotency.NewSeen(10)

	assert.False(t, seen.CheckAndAdd("m1"))
	assert.True(t, seen.CheckAndAdd("m1"), "a second check of the same key must report already-seen")
	assert.False(t, seen.CheckAndAdd("m2"))
}

func TestCheckAndAddEvictsOldest(t *testing.T) {
	seen := idempotency.NewSeen(2)

	seen.CheckAndAdd("m1")
	seen.CheckAndAdd("m2")
	seen.CheckAndAdd("m3") // evicts m1

	assert.False(t, seen.CheckAndAdd("m1"), "m1 should have been evicted once capacity was exceeded")
}
