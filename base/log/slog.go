package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

const timeFormat = "060102 15:04:05.000"

func setupSLog(w io.Writer) {
	// Only use colors when writing to a terminal.
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}

	logHandler := tint.NewHandler(w, &tint.Options{
		AddSource:  true,
		Level:      slogLevel,
		TimeFormat: timeFormat,
		NoColor:    noColor,
	})

	// Set as default logger.
	slog.SetDefault(slog.New(logHandler))
}
