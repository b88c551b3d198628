package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatch_Empty(t *testing.T) {
	empty := Batch{}
	assert.True(t, empty.Empty())

	nonEmpty := Batch{Jobs: []JobRecord{{JobID: "j1"}}}
	assert.False(t, nonEmpty.Empty())
}

func TestBatch_Drain(t *testing.T) {
	b := Batch{Jobs: []JobRecord{{JobID: "j1"}, {JobID: "j2"}}}
	require := assert.New(t)
	require.False(b.Empty())

	b.Drain()

	require.True(b.Empty())
}
