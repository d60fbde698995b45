// Package version exposes the build version stamped into the binary.
package version

import "strings"

// version is overridden at build time:
//
//	go build -ldflags "-X github.com/shellring/shellring/internal/version.version=v1.2.3"
var version = "dev"

// String returns the normalized build version.
func String() string {
	return normalize(version)
}

// normalize strips a leading "v" so stamped tags and plain versions
// compare equal.
func normalize(v string) string {
	v = strings.TrimSpace(v)
	return strings.TrimPrefix(v, "v")
}
