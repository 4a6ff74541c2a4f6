package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LatestTag is the floating tag every registry carries; it never counts as a version.
const LatestTag = "latest"

// SentinelVersion is reported when no local version can be discovered.
const SentinelVersion = "0.0.0"

var versionTagPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+`)

// Tag is a single entry of a registry tag listing.
type Tag struct {
	Name        string    `json:"name"`
	FullSize    int64     `json:"full_size"`
	LastUpdated time.Time `json:"last_updated"`
	Digest      string    `json:"digest"`
}

// VersionDescriptor is the resolved latest published version.
type VersionDescriptor struct {
	Version     string    `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
	RegistryURL string    `json:"registry_url"`
}

// LocalInstallation describes the version currently running.
type LocalInstallation struct {
	Exists      bool       `json:"exists"`
	Version     string     `json:"version"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Source      string     `json:"source"` // env, manifest, image, git, none
}

// VersionCheck is the answer to "is an update available".
type VersionCheck struct {
	Local       LocalInstallation `json:"local"`
	Remote      VersionDescriptor `json:"remote"`
	NeedsUpdate bool              `json:"needs_update"`
}

// IsVersionTag reports whether a tag looks like a semantic version.
func IsVersionTag(tag string) bool {
	return tag != LatestTag && versionTagPattern.MatchString(tag)
}

// CompareVersions orders two version strings. A leading "v" is ignored, the
// rest is split on "." and compared component by component as integers with
// missing trailing components counting as zero. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	pa := versionComponents(a)
	pb := versionComponents(b)

	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

// NeedsUpdate is true when nothing is installed or the remote version is newer.
func NeedsUpdate(local LocalInstallation, remote VersionDescriptor) bool {
	return !local.Exists || CompareVersions(remote.Version, local.Version) > 0
}

func versionComponents(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i] = leadingInt(p)
	}
	return out
}

// leadingInt parses the leading digits of s, so "3-rc1" is 3 and "x" is 0.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
