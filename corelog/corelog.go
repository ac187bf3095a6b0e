// Package corelog wraps zap into the package-level func-var style used
// across this module, so call sites read Infof/Errorf without carrying a
// logger value through every signature.
package corelog

import (
	"encoding/json"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logFormatFunc func(format string, args ...interface{})

// Level mirrors zapcore.Level so callers never import zap directly.
type Level zapcore.Level

const (
	DebugLevel Level = Level(zapcore.DebugLevel)
	InfoLevel  Level = Level(zapcore.InfoLevel)
	WarnLevel  Level = Level(zapcore.WarnLevel)
	ErrorLevel Level = Level(zapcore.ErrorLevel)
	PanicLevel Level = Level(zapcore.PanicLevel)
	FatalLevel Level = Level(zapcore.FatalLevel)
)

var (
	Debugf logFormatFunc
	Infof  logFormatFunc
	Warnf  logFormatFunc
	Errorf logFormatFunc
	Panicf logFormatFunc
	Fatalf logFormatFunc

	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

func init() {
	cfgJSON := []byte(`{
		"level": "debug",
		"outputPaths": ["stderr"],
		"errorOutputPaths": ["stderr"],
		"encoding": "console",
		"encoderConfig": {
			"messageKey": "message",
			"levelKey": "level",
			"levelEncoder": "lowercase"
		}
	}`)

	var cfg zap.Config
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		panic(err)
	}

	var err error
	logger, err = cfg.Build()
	if err != nil {
		panic(err)
	}
	rebind(logger.Sugar())
}

func rebind(s *zap.SugaredLogger) {
	sugar = s
	Debugf = sugar.Debugf
	Infof = sugar.Infof
	Warnf = sugar.Warnf
	Errorf = sugar.Errorf
	Panicf = sugar.Panicf
	Fatalf = sugar.Fatalf
}

// SetComponent tags every subsequent log line with the node role, e.g.
// "processor" or "broker".
func SetComponent(name string) {
	logger = logger.With(zap.String("component", name))
	rebind(logger.Sugar())
}

// SetLevel adjusts the minimum level of the process-wide logger.
func SetLevel(lv Level) {
	logger = logger.WithOptions(zap.IncreaseLevel(zapcore.Level(lv)))
	rebind(logger.Sugar())
}

// TraceError logs a formatted error together with the current stack, used
// on paths that must never be silent (panics recovered at a worker
// boundary, DB errors that are about to be papered over as server_error).
func TraceError(format string, args ...interface{}) {
	Errorf(format, args...)
	sugar.Debugf("%s", debug.Stack())
}
