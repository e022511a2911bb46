package obs

import "runtime/debug"

// Version is set at build time via -ldflags. When left empty the module
// build info revision is used instead.
var Version = ""

// BuildVersion returns the best available version string for /v1/info.
func BuildVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				return s.Value[:12]
			}
		}
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}
