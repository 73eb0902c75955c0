package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ServiceName identifies this service in banners and published audit
// summaries.
const ServiceName = "Tego"

// Version information (set via -ldflags during build)
var (
	Version   = "1.0"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetBuild returns the build timestamp
func GetBuild() string {
	return Build
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	return GitCommit
}

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// VersionParts splits the version string into its major and minor components.
// Missing or malformed components parse as zero.
func VersionParts() (int, int) {
	parts := strings.SplitN(Version, ".", 3)

	major := 0
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}

	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}

	return major, minor
}

// LoadVersionFromFile reads version from .version file if it exists
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	exeDir := filepath.Dir(exePath)
	versionFile := filepath.Join(exeDir, ".version")

	data, err := os.ReadFile(versionFile)
	if err != nil {
		return Version
	}

	version := strings.TrimSpace(string(data))
	if version != "" {
		Version = version
	}

	return Version
}
