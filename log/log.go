package log

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/pretty"

	"github.com/xeptore/tgmd/constant"
)

const (
	FormatPretty = "pretty"
	FormatPacked = "packed"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
}

func newBaseLogger() zerolog.Logger {
	return zerolog.
		New(io.Discard).
		With().
		Dict(
			"app",
			zerolog.
				Dict().
				Str("version", constant.Version).
				Str("compilation_time", constant.CompileTime.Format(time.RFC3339)),
		).
		Timestamp().
		Logger().
		Level(zerolog.TraceLevel)
}

// New returns a logger writing in the given format. Unknown formats fall back to pretty output.
func New(format string, w io.Writer) zerolog.Logger {
	if format == FormatPacked {
		return NewPacked(w)
	}
	return NewPretty(w)
}

func NewPretty(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(prettyWriter{out: w})
}

func NewPacked(w io.Writer) zerolog.Logger {
	return newBaseLogger().Output(w)
}

type prettyWriter struct {
	out io.Writer
}

func (p prettyWriter) Write(line []byte) (int, error) {
	if n, err := p.out.Write(pretty.Color(pretty.Pretty(line), nil)); nil != err {
		return n, err
	}
	return len(line), nil
}
