package conf

import (
	"errors"
	"slices"

	"github.com/d-kessler/CountertopDarkMatter/internal/buildinfo"
	"github.com/d-kessler/CountertopDarkMatter/internal/logger"
)

// Context carries the state shared by CLI commands. Settings and Logger are
// populated by the root command before any subcommand runs.
type Context struct {
	Settings   *Settings
	ConfigFile string
	Build      *buildinfo.Context
	Logger     logger.Logger

	closers []func() error
}

// NewContext returns a Context with build metadata and a stderr logger that
// is replaced once configuration has been loaded.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{
		Settings: &Settings{},
		Build:    build,
		Logger:   logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
	}
}

// AddCloser registers fn to run on Close.
func (c *Context) AddCloser(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close runs registered closers in reverse order and joins their errors.
func (c *Context) Close() error {
	var errs []error
	for _, fn := range slices.Backward(c.closers) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
