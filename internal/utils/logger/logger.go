// internal/utils/logger/logger.go
package logger

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger расширяет функционал zap.Logger
type Logger struct {
	*zap.Logger
	config  *Config
	rotator io.Closer
	recent  *LogBuffer
}

// New создает логгер: консоль + JSON файл с ротацией.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newWithConsole(cfg, zapcore.AddSync(os.Stdout)), nil
}

func newWithConsole(cfg *Config, console zapcore.WriteSyncer) *Logger {
	// Настройка ротации логов
	logRotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	level := zapcore.InfoLevel
	if cfg.Development {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), console, level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logRotator), level),
	}
	var recent *LogBuffer
	if cfg.RecentSize > 0 {
		recent = NewLogBuffer(cfg.RecentSize)
		cores = append(cores, recent.Core(zapcore.WarnLevel))
	}
	core := zapcore.NewTee(cores...)

	return &Logger{
		Logger: zap.New(core,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		),
		config:  cfg,
		rotator: logRotator,
		recent:  recent,
	}
}

// Recent возвращает буфер последних предупреждений и ошибок (nil если отключен).
func (l *Logger) Recent() *LogBuffer {
	return l.recent
}

// WithPool добавляет адрес пула к логам
func (l *Logger) WithPool(poolID uint, address string) *zap.Logger {
	return l.With(
		zap.Uint("pool_id", poolID),
		zap.String("pool", address),
	)
}

// WithOperation создает логгер для конкретной операции
func (l *Logger) WithOperation(operation string) *zap.Logger {
	return l.With(
		zap.String("operation", operation),
		zap.String("correlation_id", uuid.NewString()),
		zap.Time("start_time", time.Now().UTC()),
	)
}

// WithComponent добавляет информацию о компоненте системы
func (l *Logger) WithComponent(component string) *zap.Logger {
	return l.Named(component)
}

// Sync сбрасывает буферы, игнорируя ошибки sync для терминалов.
func (l *Logger) Sync() error {
	err := l.Logger.Sync()
	if err != nil && (errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)) {
		return nil
	}
	return err
}

// Close синхронизирует логгер и закрывает файл ротации.
func (l *Logger) Close() error {
	syncErr := l.Sync()
	if err := l.rotator.Close(); err != nil {
		return err
	}
	return syncErr
}
