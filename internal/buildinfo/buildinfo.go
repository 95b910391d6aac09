// Package buildinfo holds the sdhr version stamped in at link time.
package buildinfo

import "fmt"

// Set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/sdhr-guard/sdhr/internal/buildinfo.Version=1.0.0" ./cmd/sdhr
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Summary is the one-line build description printed by `sdhr version` and
// logged when the control plane starts.
func Summary() string {
	return fmt.Sprintf("sdhr %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
