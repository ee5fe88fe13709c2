package logsink

import (
	"io"

	"github.com/fatih/color"
)

// console echoes records with a coloured level tag. Colour is dropped
// automatically when the writer is not a terminal (see color.NoColor).
type console struct {
	w    io.Writer
	tags map[Level]*color.Color
	buf  []byte
}

func newConsole(w io.Writer) *console {
	return &console{
		w: w,
		tags: map[Level]*color.Color{
			LevelDebug:   color.New(color.FgHiBlack),
			LevelInfo:    color.New(color.FgCyan),
			LevelWarning: color.New(color.FgYellow),
			LevelError:   color.New(color.FgRed),
			LevelFatal:   color.New(color.FgHiRed, color.Bold),
		},
	}
}

func (c *console) write(rec Record) {
	b := append(c.buf[:0], '[')
	b = rec.Time.AppendFormat(b, timestampLayout)
	b = append(b, "] "...)
	tag := "[" + rec.Level.String() + "]"
	if col, ok := c.tags[FromSlog(slogLevel(rec.Level))]; ok {
		tag = col.Sprint(tag)
	}
	b = append(b, tag...)
	b = append(b, ' ')
	b = append(b, rec.Message...)
	b = append(b, '\n')
	c.buf = b
	_, _ = c.w.Write(b)
}
