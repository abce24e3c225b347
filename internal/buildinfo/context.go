// Package buildinfo contains build-time metadata separate from user configuration
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Context contains build-time metadata that is not user-configurable.
// Values are injected with -ldflags and handed to the application at startup.
type Context struct {
	// Version holds the Git version tag from build
	Version string

	// BuildDate is the time when the binary was built
	BuildDate string
}

// NewContext creates build metadata from linker-injected values.
func NewContext(version, buildDate string) *Context {
	return &Context{Version: version, BuildDate: buildDate}
}

// GetVersion returns the build version or UnknownValue.
func (c *Context) GetVersion() string {
	if c == nil || c.Version == "" {
		return UnknownValue
	}
	return c.Version
}

// GetBuildDate returns the build date or UnknownValue.
func (c *Context) GetBuildDate() string {
	if c == nil || c.BuildDate == "" {
		return UnknownValue
	}
	return c.BuildDate
}

// Release formats the version the way error telemetry expects it.
func (c *Context) Release() string {
	return "countertop@" + c.GetVersion()
}

func (c *Context) String() string {
	return fmt.Sprintf("countertop %s (built %s)", c.GetVersion(), c.GetBuildDate())
}
