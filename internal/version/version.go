package version

import (
	"fmt"
	"runtime/debug"
)

var (
	Name        = "proxywhirl"
	Description = "Rotating proxy engine"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

// UserAgent is what outbound requests carry when the caller sets nothing.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// Full returns the version with VCS metadata when built from source.
func Full() string {
	commit := Commit
	if commit == "none" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
					commit = setting.Value[:8]
				}
			}
		}
	}
	return fmt.Sprintf("%s %s (%s)", Name, Version, commit)
}
