// Package version contains AcceptGuard version information.
package version

import "cmp"

// These can be set by the linker, for example:
//
//	go build -ldflags '-X github.com/AdguardTeam/AcceptGuard/internal/version.version=v1.0.0'
//
// They are only exported through getters.
var (
	branch     string
	committime string
	revision   string
	version    string
)

// Name is the name of the program.
const Name = "AcceptGuard"

// devVersion is the version of builds without a version set by the linker.
const devVersion = "v0.0.0-dev"

// Branch returns the compiled-in value of the Git branch.
func Branch() (b string) {
	return branch
}

// CommitTime returns the compiled-in value of the commit time as a string.
func CommitTime() (t string) {
	return committime
}

// Revision returns the compiled-in value of the Git revision.
func Revision() (r string) {
	return revision
}

// Version returns the compiled-in value of the AcceptGuard version as a
// string.  Development builds have the "v0.0.0-dev" version.
func Version() (v string) {
	return cmp.Or(version, devVersion)
}

// UserAgent returns the value for the User-Agent and Server HTTP headers.
func UserAgent() (ua string) {
	return Name + "/" + Version()
}
