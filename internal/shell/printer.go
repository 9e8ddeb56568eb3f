package shell

import (
	"fmt"
	"io"
	"sync"

	"github.com/antonkrylov/mshell/internal/executor"
)

const (
	prefixLocal        = "[local] "
	prefixEngine       = "[engine] "
	prefixSocket       = "[socket] "
	prefixSocketEngine = "[socket][engine] "
)

// Printer writes everything the shell shows on the terminal. It implements
// executor.Display; socket-origin lines are mirrored only while Mirror
// reports true.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	mirror func() bool
}

func NewPrinter(out io.Writer, mirror func() bool) *Printer {
	return &Printer{out: out, mirror: mirror}
}

// SetMirror replaces the mirroring predicate.
func (p *Printer) SetMirror(mirror func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mirror = mirror
}

func (p *Printer) Line(origin executor.Origin, stream executor.Stream, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := ""
	switch {
	case origin == executor.OriginSocket:
		if p.mirror == nil || !p.mirror() {
			return
		}
		prefix = prefixSocket
		if stream == executor.Stderr {
			prefix = prefixSocketEngine
		}
	case stream == executor.Stderr:
		prefix = prefixEngine
	}
	_, _ = fmt.Fprintf(p.out, "%s%s\n", prefix, text)
}

// Local prints a message generated by the shell itself.
func (p *Printer) Local(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, prefixLocal+format+"\n", args...)
}

// Raw prints text as is, without a prefix or trailing newline.
func (p *Printer) Raw(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.out, text)
}
