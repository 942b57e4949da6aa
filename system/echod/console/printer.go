// Package console prints the server's message stream to a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorMode selects whether connection lines are colored.
type ColorMode int

const (
	// ColorAuto colors only when the writer is a terminal.
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// Printer writes received messages verbatim and one line per connect
// and disconnect. It implements server.Observer.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	connected    func(a ...any) string
	disconnected func(a ...any) string
	failed       func(a ...any) string
}

// New returns a Printer writing to w.
func New(w io.Writer, mode ColorMode) *Printer {
	on := useColor(w, mode)
	sprint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if on {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return &Printer{
		w:            w,
		connected:    sprint(color.FgGreen),
		disconnected: sprint(color.FgYellow),
		failed:       sprint(color.FgRed, color.Bold),
	}
}

func useColor(w io.Writer, mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Connected prints a line for a new connection.
func (p *Printer) Connected(id, remote string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s (%s)\n", p.connected("connected"), id, remote)
}

// Received writes msg as is; messages carry their own line endings, if any.
func (p *Printer) Received(id string, msg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.w.Write(msg)
}

// Disconnected prints a line for a closed connection, with the error
// that ended it if any.
func (p *Printer) Disconnected(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fmt.Fprintf(p.w, "%s %s: %v\n", p.failed("disconnected"), id, err)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.disconnected("disconnected"), id)
}
