package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunningPrefersStampedVersion(t *testing.T) {
	saved := Version
	t.Cleanup(func() { Version = saved })

	Version = "1.4.0"
	assert.Equal(t, "1.4.0", Running())

	Version = ""
	assert.NotEmpty(t, Running())
}
