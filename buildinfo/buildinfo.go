// Package buildinfo holds the agent's name and version.
//
// Release builds stamp the version through ldflags:
//
//	go build -ldflags "-X github.com/nedpals/davi-device-agent/buildinfo.Version=1.0.0 \
//	  -X github.com/nedpals/davi-device-agent/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Without ldflags, Version and Commit fall back to the module version and
// VCS revision embedded by the Go toolchain.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

var (
	Name        = "davi-device-agent"
	DirName     = "davi-device-agent" // config directory under the user config dir
	DisplayName = "Davi Device Agent" // tray tooltip, mDNS instance, HTTP banner
	Description = "NFC tag, smart card and BLE beacon agent with a live status feed"

	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

const shortCommit = 7

var stampOnce sync.Once

// stamp fills Version, Commit and BuildTime from the embedded build info
// when ldflags left them unset.
func stamp() {
	stampOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			Version = strings.TrimPrefix(info.Main.Version, "v")
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "" {
					Commit = s.Value
				}
			case "vcs.time":
				if BuildTime == "" {
					BuildTime = s.Value
				}
			}
		}
		if len(Commit) > shortCommit {
			Commit = Commit[:shortCommit]
		}
	})
}

// FullVersion returns "1.0.0 (abc1234)", or just the version when no
// commit is known.
func FullVersion() string {
	stamp()
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// BuildInfo renders the version banner printed by `version`.
func BuildInfo() string {
	stamp()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&sb, "  %s\n", Description)
	fmt.Fprintf(&sb, "  Go: %s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&sb, "\n  Built: %s", BuildTime)
	}
	return sb.String()
}
