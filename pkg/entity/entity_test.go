package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEvent struct{ key string }

func (testEvent) Kind() string  { return "test.event" }
func (e testEvent) Key() string { return e.key }

func TestTouchBumpsVersion(t *testing.T) {
	m := NewMeta()
	assert.Equal(t, int64(1), m.Version)

	before := m.UpdatedAt
	m.Touch()
	assert.Equal(t, int64(2), m.Version)
	assert.False(t, m.UpdatedAt.Before(before))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	assert.Empty(t, r.Pending())

	r.Record(testEvent{key: "a"})
	r.Record(testEvent{key: "b"})
	assert.Len(t, r.Pending(), 2)

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Key())
	assert.Empty(t, r.Pending())
	assert.Empty(t, r.Drain())
}
