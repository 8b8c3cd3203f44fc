package internal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutMillis(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(-1, TimeoutMillis(-1))
	assert.Equal(-1, TimeoutMillis(-time.Hour))
	assert.Equal(0, TimeoutMillis(0))

	// Anything below a millisecond must still block.
	assert.Equal(1, TimeoutMillis(time.Nanosecond))
	assert.Equal(1, TimeoutMillis(999*time.Microsecond))

	assert.Equal(1, TimeoutMillis(time.Millisecond))
	assert.Equal(2, TimeoutMillis(time.Millisecond+time.Nanosecond))
	assert.Equal(1500, TimeoutMillis(1500*time.Millisecond))

	assert.Equal(math.MaxInt32, TimeoutMillis(time.Duration(math.MaxInt64)))
}
