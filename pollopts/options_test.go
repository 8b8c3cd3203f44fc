package pollopts

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestOptionTypes(t *testing.T) {
	assert := assert.New(t)

	entry := logrus.NewEntry(logrus.New())

	opt := Logger(entry)
	assert.Equal(TypeLogger, opt.Type())
	assert.Same(entry, opt.Value().(*logrus.Entry))

	opt = DetectConcurrentWait(false)
	assert.Equal(TypeDetectConcurrentWait, opt.Type())
	assert.Equal(false, opt.Value().(bool))
}

func TestOptionTypeString(t *testing.T) {
	assert.Equal(t, "logger", TypeLogger.String())
	assert.Equal(t, "detect_concurrent_wait", TypeDetectConcurrentWait.String())
	assert.Equal(t, "option_unknown", MaxOption.String())
}
