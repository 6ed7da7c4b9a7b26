package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/theme"
)

// StyledLogger wraps slog.Logger with Theme-aware formatting
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

// NewDiscard returns a logger that drops everything. Test use.
func NewDiscard() *StyledLogger {
	return NewStyledLogger(slog.New(slog.DiscardHandler), theme.Default())
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Counts.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProxy(msg string, proxyURL string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Proxy.Sprint(proxyURL))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithProxy(msg string, proxyURL string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Proxy.Sprint(proxyURL))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithProxy(msg string, proxyURL string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Proxy.Sprint(proxyURL))
	sl.logger.Error(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProbe(msg string, proxyURL string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.HealthCheck.Sprint(proxyURL))
	sl.logger.Info(styledMsg, args...)
}

// InfoHealthStatus renders a health transition with the status in its colour.
func (sl *StyledLogger) InfoHealthStatus(msg string, proxyURL string, status domain.ProxyStatus, args ...any) {
	var statusColor pterm.Color
	var statusText string

	switch status {
	case domain.StatusHealthy:
		statusColor = sl.Theme.HealthHealthy
		statusText = "Healthy"
	case domain.StatusDegraded:
		statusColor = sl.Theme.HealthDegraded
		statusText = "Degraded"
	case domain.StatusUnhealthy:
		statusColor = sl.Theme.HealthUnhealthy
		statusText = "Unhealthy"
	case domain.StatusDead:
		statusColor = sl.Theme.HealthDead
		statusText = "Dead"
	case domain.StatusUnknown:
		statusColor = sl.Theme.HealthUnknown
		statusText = "Unknown"
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg, sl.Theme.Proxy.Sprint(proxyURL), pterm.Style{statusColor}.Sprint(statusText))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *StyledLogger) WithRequestID(requestID string) *StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}

