package models

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yllada/ovpn-mgmt/common"
)

const (
	releasePrefix    = "OpenVPN Version: "
	managementPrefix = "Management Version: "
)

var versionNumberPattern = regexp.MustCompile(`OpenVPN (?P<version>\d+\.\d+\.\d+)`)

// ParseVersion extracts the release string from a version reply, e.g.
// "OpenVPN 2.4.4 x86_64-pc-linux-gnu [SSL (OpenSSL)] ... built on Sep  5 2018".
func ParseVersion(raw string) (string, error) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, releasePrefix) {
			return strings.TrimPrefix(line, releasePrefix), nil
		}
	}
	return "", common.NewParseError("unable to get OpenVPN version, no matches found in socket response")
}

// ParseManagementVersion extracts the management protocol version, or 0
// when the daemon did not report one.
func ParseManagementVersion(raw string) int {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, managementPrefix) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimPrefix(line, managementPrefix))
		if err != nil {
			return 0
		}
		return v
	}
	return 0
}

// VersionNumber returns the x.y.z part of a release string.
func VersionNumber(release string) (string, error) {
	m := versionNumberPattern.FindStringSubmatch(release)
	if m == nil {
		return "", common.NewParseError("unable to parse version from release string")
	}
	return m[versionNumberPattern.SubexpIndex("version")], nil
}
