package poll

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterestAddRemove(t *testing.T) {
	assert := assert.New(t)

	i := Readable.Add(Writable)
	assert.True(i.IsReadable())
	assert.True(i.IsWritable())
	assert.False(i.IsPriority())

	r, ok := i.Remove(Writable)
	assert.True(ok)
	assert.Equal(Readable, r)

	r, ok = Readable.Remove(Readable)
	assert.False(ok)
	assert.Equal(Readable, r)

	r, ok = Readable.Remove(Writable)
	assert.True(ok)
	assert.Equal(Readable, r)
}

func TestInterestPredicates(t *testing.T) {
	assert := assert.New(t)

	assert.True(Priority.IsPriority())
	assert.True(AIO.IsAIO())
	assert.True(LIO.IsLIO())
	assert.False(AIO.IsLIO())
	assert.False(Writable.IsReadable())
}

func TestInterestString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("READABLE", Readable.String())
	assert.Equal("READABLE | WRITABLE", Readable.Add(Writable).String())
	assert.Equal("WRITABLE | PRIORITY", Writable.Add(Priority).String())
	assert.Equal("AIO | LIO", AIO.Add(LIO).String())
	assert.Equal("NONE", Interest(0).String())
}

func TestTokenString(t *testing.T) {
	assert.Equal(t, "Token(0)", Token(0).String())
	assert.Equal(t, "Token(18446744073709551615)", Token(^uint64(0)).String())
}
