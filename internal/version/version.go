package version

import (
	"github.com/carlmjohnson/versioninfo"
)

// Version is stamped at link time with -ldflags "-X .../internal/version.Version=1.2.3".
var Version = ""

// Running returns the version the running image identifies itself with. It
// is compared against the published latest version by exact string match.
func Running() string {
	if Version != "" {
		return Version
	}
	return versioninfo.Short()
}
