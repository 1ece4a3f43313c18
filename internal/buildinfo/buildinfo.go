// Package buildinfo reports the version stamped at link time
// (-ldflags "-X carrierplan/internal/buildinfo.Version=...") and falls back to
// the VCS data the Go toolchain embeds.
package buildinfo

import "runtime/debug"

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    info := map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
    if bi, ok := debug.ReadBuildInfo(); ok {
        info["go"] = bi.GoVersion
        for _, s := range bi.Settings {
            switch s.Key {
            case "vcs.revision":
                if info["commit"] == "" { info["commit"] = s.Value }
            case "vcs.time":
                if info["builtAt"] == "" { info["builtAt"] = s.Value }
            }
        }
    }
    return info
}
