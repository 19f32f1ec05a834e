package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// ColorTextHandler decorates slog.TextHandler with a leading level token in
// front of the message. The token is colored only when the destination is a
// terminal, so a redirected daemon log stays plain text.
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

// NewColorTextHandler builds the handler. With showTime false the time
// attribute is suppressed entirely, which keeps test output and short-lived
// CLI runs readable.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	var ho slog.HandlerOptions
	if opts != nil {
		ho = *opts
	}
	if !showTime {
		inner := ho.ReplaceAttr
		ho.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if inner != nil {
				return inner(groups, a)
			}
			return a
		}
	}
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, &ho),
		color:       isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	case l >= slog.LevelInfo:
		return colorGreen
	default:
		return colorCyan
	}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	tag := r.Level.String()
	if h.color {
		tag = levelColor(r.Level) + tag + colorReset
	}
	r.Message = tag + "  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// WithAttrs keeps the color wrapper on derived loggers; embedding alone would
// hand back the bare TextHandler.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.TextHandler = h.TextHandler.WithAttrs(attrs).(*slog.TextHandler)
	return &nh
}

// WithGroup keeps the color wrapper on derived loggers.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.TextHandler = h.TextHandler.WithGroup(name).(*slog.TextHandler)
	return &nh
}
