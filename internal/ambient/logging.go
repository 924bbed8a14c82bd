// Package ambient holds process-wide concerns — logging setup today — that
// every core component depends on but that spec.md explicitly treats as
// external/out of scope for behavior. Adapted from
// estuary-flow's go/flowctl/logging.go.
package ambient

import (
	log "github.com/sirupsen/logrus"
)

// LogConfig configures the process-wide logger, mirroring the teacher's
// LogConfig shape so CLI flag wiring (out of scope here) has somewhere
// obvious to bind --log-level/--log-format.
type LogConfig struct {
	Level  string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// InitLogging applies cfg to the package-level logrus logger and returns a
// *log.Entry scoped for top-level use, so components can log.WithField
// without reaching for the global logger directly.
func InitLogging(cfg LogConfig) *log.Entry {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.SetFormatter(&log.TextFormatter{})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Warn("unrecognized log level, defaulting to info")
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(lvl)
	}

	return log.WithField("component", "lookervault")
}
