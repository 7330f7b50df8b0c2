package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// no-op until one of the Init functions runs
var zapLog = zap.NewNop()

// InitLogger sets up the process-wide logger writing to stderr.
func InitLogger(level zapcore.Level) error {
	return initWithPaths(level, []string{"stderr"})
}

// InitLoggerWithFile also mirrors log output into the given file,
// typically log.txt inside the result directory.
func InitLoggerWithFile(level zapcore.Level, path string) error {
	return initWithPaths(level, []string{"stderr", path})
}

func initWithPaths(level zapcore.Level, paths []string) error {

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = paths

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("Jan _2 15:04:05.000000000")
	encoderConfig.StacktraceKey = "" // to hide stacktrace info
	config.EncoderConfig = encoderConfig

	var err error
	zapLog, err = config.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	return nil
}

func Info(message string, fields ...zap.Field) {
	zapLog.Info(message, fields...)
}

func Warn(message string, fields ...zap.Field) {
	zapLog.Warn(message, fields...)
}

func Debug(message string, fields ...zap.Field) {
	zapLog.Debug(message, fields...)
}

func Error(message string, fields ...zap.Field) {
	zapLog.Error(message, fields...)
}

func Fatal(message string, fields ...zap.Field) {
	zapLog.Fatal(message, fields...)
}

// Sync flushes any buffered log entries
func Sync() error {
	return zapLog.Sync()
}
