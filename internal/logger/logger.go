// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const timeFormat = "02-01-2006 15:04:05.000"

var once sync.Once

// Init points the global logger at stdout with a console writer and sets the
// global level. Later calls only change the level.
func Init(appName, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	once.Do(func() {
		zerolog.CallerMarshalFunc = shortCaller
		log.Logger = New(os.Stdout, appName)
		log.Debug().Str("level", lvl.String()).Msg("logger initialized")
	})
	return nil
}

// New builds a console logger writing to w.
func New(w io.Writer, appName string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    w != os.Stdout,
		TimeFormat: timeFormat,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-6s", i))
		},
		FieldsExclude: []string{"app"},
		PartsOrder: []string{
			"app",
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			zerolog.CallerFieldName,
			zerolog.MessageFieldName,
		},
	}
	return zerolog.New(out).With().Timestamp().Str("app", appName).Caller().Logger()
}

// ParseLevel accepts zerolog level names in any case. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: invalid level %q", level)
	}
	return lvl, nil
}

func shortCaller(_ uintptr, file string, line int) string {
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return file + ":" + strconv.Itoa(line)
}
