// Package buildinfo holds build-time metadata separate from user configuration.
package buildinfo

// Set with -ldflags "-X github.com/polybot/yolo-service/internal/buildinfo.version=..."
var (
	version   = "1.0.1"
	buildDate = "unknown"
)

// BuildInfo provides access to build-time metadata. Handlers depend on it so
// tests can pin the reported version.
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
}

// Context is a snapshot of build metadata.
type Context struct {
	Version   string
	BuildDate string
}

// Current returns the metadata linked into this binary.
func Current() *Context {
	return &Context{Version: Version(), BuildDate: BuildDate()}
}

// Version returns the service version reported by /health.
func Version() string {
	if version == "" {
		return "unknown"
	}
	return version
}

// BuildDate returns the build timestamp, or "unknown".
func BuildDate() string {
	if buildDate == "" {
		return "unknown"
	}
	return buildDate
}

// GetVersion implements BuildInfo.GetVersion
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return "unknown"
	}
	return c.Version
}

// GetBuildDate implements BuildInfo.GetBuildDate
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return "unknown"
	}
	return c.BuildDate
}
