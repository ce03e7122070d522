// Package update checks GitHub releases for a newer build and swaps the
// running binary in place after verifying its checksum.
package update

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

const (
	Repo       = "dikta-app/dikta"
	BinaryName = "dikta"
)

// assetName is the release artifact for this platform, e.g. dikta_linux_amd64.
func assetName() string {
	return BinaryName + "_" + runtime.GOOS + "_" + runtime.GOARCH
}

// Release identifies one downloadable build.
type Release struct {
	Version     string
	AssetURL    string
	ChecksumURL string
}

// NewerThan reports whether the release is a strict upgrade over the
// running version. Unparseable versions on either side never upgrade.
func (r Release) NewerThan(current string) bool {
	cur, err := parseSemver(current)
	if err != nil {
		return false
	}
	rel, err := parseSemver(r.Version)
	if err != nil {
		return false
	}
	return rel.compare(cur) > 0
}

type semver struct {
	major, minor, patch int
}

// parseSemver reads a MAJOR.MINOR.PATCH tag, tolerating a leading v and
// ignoring any pre-release or build suffix.
func parseSemver(v string) (semver, error) {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("invalid semver: %q", v)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return semver{}, fmt.Errorf("invalid semver: %q", v)
		}
		nums[i] = n
	}
	return semver{nums[0], nums[1], nums[2]}, nil
}

func (s semver) compare(o semver) int {
	for _, d := range [3]int{s.major - o.major, s.minor - o.minor, s.patch - o.patch} {
		if d != 0 {
			return d
		}
	}
	return 0
}
