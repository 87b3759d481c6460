package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexSetGetDelete(t *testing.T) {
	ix := NewIndex()

	_, ok := ix.Get("missing")
	assert.False(t, ok)

	ix.Set("k", []byte("v"))
	v, ok := ix.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	ix.Delete("k")
	_, ok = ix.Get("k")
	assert.False(t, ok)
}

func TestIndexGetReturnsACopy(t *testing.T) {
	ix := NewIndex()
	ix.Set("k", []byte("v"))

	v, _ := ix.Get("k")
	v[0] = 'x'

	v2, _ := ix.Get("k")
	assert.Equal(t, []byte("v"), v2)
}

func TestIndexApplyDispatchesOnKind(t *testing.T) {
	ix := NewIndex()
	ix.Apply(Record{Kind: RecordSet, Key: "k", Value: []byte("v")})
	assert.Equal(t, 1, ix.Len())

	ix.Apply(Record{Kind: RecordDelete, Key: "k"})
	assert.Equal(t, 0, ix.Len())
}

func TestIndexDeleteOfMissingKeyIsNoop(t *testing.T) {
	ix := NewIndex()
	assert.NotPanics(t, func() {
		ix.Delete("never-existed")
	})
}
