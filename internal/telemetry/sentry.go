// Package telemetry reports categorised errors to Sentry.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/polybot/yolo-service/internal/buildinfo"
	"github.com/polybot/yolo-service/internal/conf"
	"github.com/polybot/yolo-service/internal/errors"
	"github.com/polybot/yolo-service/internal/logger"
)

const flushTimeout = 2 * time.Second

// InitSentry initializes the Sentry SDK and installs the error reporter. It
// is opt-in: with sentry.enabled false it does nothing. The returned function
// flushes pending events and uninstalls the reporter.
func InitSentry(settings conf.SentrySettings, log logger.Logger) (func(), error) {
	return initSentry(settings, nil, log)
}

func initSentry(settings conf.SentrySettings, transport sentry.Transport, log logger.Logger) (func(), error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if !settings.Enabled {
		log.Debug("sentry telemetry is disabled")
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Transport:        transport,
		SampleRate:       settings.SampleRate,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "", // keep host names out of events
		Release:          fmt.Sprintf("yolo-service@%s", buildinfo.Version()),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("sentry telemetry enabled",
		logger.String("environment", settings.Environment),
		logger.Float64("sample_rate", settings.SampleRate))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips host and user data from a Sentry event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
