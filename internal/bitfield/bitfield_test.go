package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClear(t *testing.T) {
	v := New(10)
	assert.Equal(t, "0000", v.Hex())

	v.Set(0)
	assert.Equal(t, "8000", v.Hex())

	v.Set(9)
	assert.Equal(t, "8040", v.Hex())
	assert.Equal(t, uint32(2), v.Count())
	assert.True(t, v.Test(9))
	assert.False(t, v.Test(8))

	v.Clear(0)
	assert.Equal(t, "0040", v.Hex())
	assert.Equal(t, []uint32{9}, v.Indices())

	assert.Panics(t, func() { v.Set(10) })
}

func TestAll(t *testing.T) {
	v := New(3)
	assert.False(t, v.All())
	for i := uint32(0); i < 3; i++ {
		v.Set(i)
	}
	assert.True(t, v.All())
	assert.Equal(t, []bool{true, true, true}, v.Bools())
}

func TestFromBytes(t *testing.T) {
	v, err := FromBytes([]byte{0xff}, 7)
	require.NoError(t, err)
	assert.Equal(t, "fe", v.Hex())
	assert.Equal(t, uint32(7), v.Count())

	v, err = FromBytes([]byte{0x80, 0x01, 0xff}, 16)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 15}, v.Indices())

	_, err = FromBytes([]byte{0xff}, 9)
	assert.ErrorIs(t, err, ErrShortBitfield)
}

func TestCopyIsIndependent(t *testing.T) {
	v := New(8)
	c := v.Copy()
	c.Set(1)
	assert.False(t, v.Test(1))
	assert.True(t, c.Test(1))
}
