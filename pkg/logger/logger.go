// Package logger wraps zap behind a process-wide sugared logger so call
// sites can log key/value pairs without threading a logger through every
// constructor.
package logger

import (
	"os"

	"go.uber.org/zap"
)

// Logger is the logging surface the rest of the code depends on. Printf is
// included so the logger satisfies fasthttp's Logger interface.
type Logger interface {
	Debug(msg string, values ...any)
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Panic(msg string, values ...any)
	Fatal(err error, values ...any)
	Printf(format string, args ...any)
}

type zapWrapper struct {
	sugar *zap.SugaredLogger
}

var global *zapWrapper

func init() {
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("LOG_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	}
	if err := Init(cfg); err != nil {
		panic(err)
	}
}

// Init replaces the global logger. Called once from init with an
// environment-derived config; tests may call it again.
func Init(cfg zap.Config) error {
	l, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}
	global = &zapWrapper{sugar: l.Sugar()}
	return nil
}

func GetLogger() Logger {
	if global == nil {
		panic("logger not initialized")
	}
	return global
}

func (w *zapWrapper) Debug(msg string, values ...any) { w.sugar.Debugw(msg, values...) }
func (w *zapWrapper) Info(msg string, values ...any)  { w.sugar.Infow(msg, values...) }
func (w *zapWrapper) Warn(msg string, values ...any)  { w.sugar.Warnw(msg, values...) }
func (w *zapWrapper) Error(msg string, values ...any) { w.sugar.Errorw(msg, values...) }
func (w *zapWrapper) Panic(msg string, values ...any) { w.sugar.Panicw(msg, values...) }
func (w *zapWrapper) Fatal(err error, values ...any)  { w.sugar.Fatalw(err.Error(), values...) }
func (w *zapWrapper) Printf(format string, args ...any) {
	w.sugar.Infof(format, args...)
}

func Debug(msg string, values ...any) { GetLogger().Debug(msg, values...) }
func Info(msg string, values ...any)  { GetLogger().Info(msg, values...) }
func Warn(msg string, values ...any)  { GetLogger().Warn(msg, values...) }
func Error(msg string, values ...any) { GetLogger().Error(msg, values...) }
func Panic(msg string, values ...any) { GetLogger().Panic(msg, values...) }
func Fatal(err error, values ...any)  { GetLogger().Fatal(err, values...) }
