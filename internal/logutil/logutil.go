package logutil

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

var levels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// LoggerFromViper builds the process logger from the logging.* keys.
// --trace lowers the level to debug unless logging.level is set
// explicitly.
func LoggerFromViper() (*slog.Logger, error) {
	level := viper.GetString("logging.level")
	if level == "" && viper.GetBool("trace") {
		level = "debug"
	}
	return New(level, viper.GetString("logging.format"), viper.GetBool("logging.add_source"))
}

// New returns a slog logger writing to stderr in the given format.
func New(level, format string, addSource bool) (*slog.Logger, error) {
	lv, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	if !ok {
		return nil, fmt.Errorf("unknown logging.level: %s", level)
	}
	opts := &slog.HandlerOptions{Level: lv, AddSource: addSource}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown logging.format: %s", format)
	}
}
