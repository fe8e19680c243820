package abortreg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/igoryan-dao/turnbridge/internal/convkey"
)

func TestMarkAbortedIsAbortedClear(t *testing.T) {
	r := New()
	key := convkey.New("C1", "")

	assert.False(t, r.IsAborted(key))
	r.MarkAborted(key)
	assert.True(t, r.IsAborted(key))
	r.Clear(key)
	assert.False(t, r.IsAborted(key))
}

func TestClearIsIdempotent(t *testing.T) {
	r := New()
	key := convkey.New("C1", "")
	r.Clear(key)
	r.Clear(key)
	assert.False(t, r.IsAborted(key))
}

func TestKeysAreIndependent(t *testing.T) {
	r := New()
	a := convkey.New("C1", "")
	b := convkey.New("C2", "")

	r.MarkAborted(a)
	assert.True(t, r.IsAborted(a))
	assert.False(t, r.IsAborted(b))
}
