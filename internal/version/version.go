// Package version holds the build version, set with
// -ldflags "-X github.com/NowakAdmin/BizantiPOS/internal/version.Version=...".
package version

var Version = "dev"
