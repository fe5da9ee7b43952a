package vetcache

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging points the global logger at a console writer on stdout (and
// out, if given) and applies level, falling back to info.
func SetupLogging(level string, out ...io.Writer) {
	zerologLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zerologLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zerologLevel)

	outputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	outputs = append(outputs, out...)
	log.Logger = log.Output(zerolog.MultiLevelWriter(outputs...))

	if err != nil && level != "" {
		log.Warn().Err(err).Str("level", level).Msg("Failed to parse log level, defaulting to info")
	}
}
