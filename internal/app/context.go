// Package app holds the process-wide state shared by the CLI commands and
// builds the prediction pipeline from settings.
package app

import (
	"fmt"

	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/logger"
	"github.com/polybot/yolo-service/internal/telemetry"
)

// Context carries what the root command sets up before a subcommand runs.
type Context struct {
	ConfigFile string // --config, empty searches the default paths
	Debug      bool   // --debug

	Settings *conf.Settings
	Logger   *logger.CentralLogger

	closeSentry func()
}

// Init loads the settings, then builds the logger and error telemetry.
func (c *Context) Init() error {
	settings, err := conf.Load(c.ConfigFile)
	if err != nil {
		return err
	}
	if c.Debug {
		settings.Debug = true
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	c.Settings = settings

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.Logger = central

	closeSentry, err := telemetry.InitSentry(settings.Sentry, central.Module("telemetry"))
	if err != nil {
		// telemetry is optional; keep running without it
		central.Module("telemetry").Warn("sentry initialization failed", logger.Error(err))
		closeSentry = func() {}
	}
	c.closeSentry = closeSentry
	return nil
}

// Log returns a module logger, or a no-op logger before Init.
func (c *Context) Log(module string) logger.Logger {
	if c.Logger == nil {
		return logger.NewNopLogger()
	}
	return c.Logger.Module(module)
}

// Close flushes telemetry and closes the log file.
func (c *Context) Close() {
	if c.closeSentry != nil {
		c.closeSentry()
		c.closeSentry = nil
	}
	if c.Logger != nil {
		_ = c.Logger.Close()
	}
}
