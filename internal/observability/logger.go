package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOutput selects where InitLogger writes.
type LogOutput struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// File, when set, receives JSON lines rotated by lumberjack in addition
	// to the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func InitLogger(app string, out LogOutput) zerolog.Logger {
	var w io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    out.NoColor,
	}
	if file := strings.TrimSpace(out.File); file != "" {
		w = zerolog.MultiLevelWriter(w, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    atLeast(out.MaxSizeMB, 10),
			MaxBackups: atLeast(out.MaxBackups, 1),
			MaxAge:     atLeast(out.MaxAgeDays, 7),
			Compress:   true,
		})
	}
	ctx := zerolog.New(w).Level(out.Level).With()
	if out.Timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func atLeast(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
