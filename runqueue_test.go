package stagesched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQueueFIFOOrder(t *testing.T) {
	var q runQueue
	require.True(t, q.empty())

	a := &Thread{id: 1}
	b := &Thread{id: 2}
	c := &Thread{id: 3}

	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)
	require.Equal(t, 3, q.Len())

	assert.Same(t, a, q.popFront())
	assert.Same(t, b, q.popFront())
	assert.Same(t, c, q.popFront())
	assert.Nil(t, q.popFront())
	assert.True(t, q.empty())
}

func TestRunQueueRemoveMiddle(t *testing.T) {
	var q runQueue
	a := &Thread{id: 1}
	b := &Thread{id: 2}
	c := &Thread{id: 3}
	q.pushBack(a)
	q.pushBack(b)
	q.pushBack(c)

	q.remove(b)
	require.Equal(t, 2, q.Len())

	assert.Same(t, a, q.popFront())
	assert.Same(t, c, q.popFront())
}

func TestRunQueueRemoveHeadAndTail(t *testing.T) {
	var q runQueue
	a := &Thread{id: 1}
	b := &Thread{id: 2}
	q.pushBack(a)
	q.pushBack(b)

	q.remove(a)
	assert.Equal(t, 1, q.Len())
	assert.Same(t, b, q.popFront())

	q2 := runQueue{}
	q2.pushBack(a)
	q2.pushBack(b)
	q2.remove(b)
	assert.Equal(t, 1, q2.Len())
	assert.Same(t, a, q2.popFront())
}
