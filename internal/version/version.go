package version

import (
	"github.com/earthboundkid/versioninfo/v2"
)

// GetVersion returns the module version with the short commit when the
// binary was built from a VCS checkout
func GetVersion() string {
	return versioninfo.Short()
}

// GetFullVersion returns version with commit info
func GetFullVersion() string {
	rev := versioninfo.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if rev == "" || rev == "unknown" {
		return versioninfo.Version
	}
	ver := versioninfo.Version + " (commit: " + rev
	if versioninfo.DirtyBuild {
		ver += ", dirty"
	}
	return ver + ")"
}
