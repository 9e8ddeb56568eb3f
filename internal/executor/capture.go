package executor

import (
	"bytes"
	"strings"

	"github.com/antonkrylov/mshell/internal/engine"
)

// lineBuffer splits one engine stream into lines. The cursor makes drain
// idempotent: bytes already consumed are never read again.
type lineBuffer struct {
	cursor  int
	partial []byte
	lines   []string
}

// drain consumes bytes written since the last drain and returns the lines
// they completed.
func (b *lineBuffer) drain(s *engine.Stream) []string {
	data, next := s.ReadFrom(b.cursor)
	b.cursor = next
	if len(data) == 0 {
		return nil
	}
	b.partial = append(b.partial, data...)
	var fresh []string
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		fresh = append(fresh, strings.TrimSuffix(string(b.partial[:i]), "\r"))
		b.partial = b.partial[i+1:]
	}
	b.lines = append(b.lines, fresh...)
	return fresh
}

// flush turns an unterminated trailing line into a line.
func (b *lineBuffer) flush() []string {
	if len(b.partial) == 0 {
		return nil
	}
	line := strings.TrimSuffix(string(b.partial), "\r")
	b.partial = nil
	b.lines = append(b.lines, line)
	return []string{line}
}

func (b *lineBuffer) reset() {
	b.cursor = 0
	b.partial = nil
	b.lines = nil
}

// capture holds the stdout and stderr lines of the command in flight.
type capture struct {
	stdout lineBuffer
	stderr lineBuffer
}

func (c *capture) drain(call engine.Call) (stdout, stderr []string) {
	return c.stdout.drain(call.Stdout()), c.stderr.drain(call.Stderr())
}

func (c *capture) flush() (stdout, stderr []string) {
	return c.stdout.flush(), c.stderr.flush()
}

// snapshot copies the captured lines out so reset cannot alias them.
func (c *capture) snapshot() (stdout, stderr []string) {
	return append([]string{}, c.stdout.lines...), append([]string{}, c.stderr.lines...)
}

func (c *capture) reset() {
	c.stdout.reset()
	c.stderr.reset()
}
