// Package command classifies a typed line into the action it requests.
// The interactive shell and the socket server share it so both origins
// normalize engine verbs the same way.
package command

import (
	"strings"

	"github.com/antonkrylov/mshell/internal/engine"
)

type Kind int

const (
	// Eval forwards Arg verbatim to the engine.
	Eval Kind = iota
	// Builtin invokes a named engine verb such as run, help, doc or who.
	Builtin
	// Escape is a local shell action introduced by '!'.
	Escape
	// Empty lists the session's variables.
	Empty
	Quit
)

func (k Kind) String() string {
	switch k {
	case Eval:
		return "eval"
	case Builtin:
		return "builtin"
	case Escape:
		return "escape"
	case Empty:
		return "empty"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is a classified line. For Eval, Builtin and Empty, Name and Arg are
// what the executor sends to the engine. For Escape, Name is the action and
// Args its whitespace-separated arguments.
type Command struct {
	Kind Kind
	Name string
	Arg  string
	Args []string
	Line string
}

// Local reports whether the command is handled by the shell rather than the
// engine.
func (c Command) Local() bool {
	return c.Kind == Escape || c.Kind == Quit
}

// Parse classifies line. Malformed engine verbs yield a KindSyntax error.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	cmd := Command{Line: line}

	if trimmed == "" {
		cmd.Kind = Empty
		cmd.Name = "who"
		return cmd, nil
	}
	if strings.HasPrefix(trimmed, "!") {
		fields := strings.Fields(strings.TrimPrefix(trimmed, "!"))
		if len(fields) == 0 {
			return cmd, engine.Errorf(engine.KindSyntax, "escape action is required (try !help)")
		}
		cmd.Kind = Escape
		cmd.Name = strings.ToLower(fields[0])
		cmd.Args = fields[1:]
		cmd.Arg = strings.Join(cmd.Args, " ")
		return cmd, nil
	}
	switch trimmed {
	case "quit", "exit":
		cmd.Kind = Quit
		return cmd, nil
	}

	verb, rest := splitVerb(trimmed)
	switch verb {
	case "run":
		target, err := scriptName(rest)
		if err != nil {
			return cmd, err
		}
		cmd.Kind = Builtin
		cmd.Name = "run"
		cmd.Arg = target
		return cmd, nil
	case "help", "doc":
		topic, err := topicArg(rest)
		if err != nil {
			return cmd, err
		}
		cmd.Kind = Builtin
		cmd.Name = verb
		cmd.Arg = topic
		return cmd, nil
	}

	cmd.Kind = Eval
	cmd.Name = engine.CommandEval
	cmd.Arg = trimmed
	return cmd, nil
}

// splitVerb separates a leading verb used in command or function syntax:
// "run foo", "run(foo)" and "run  (foo)" all yield ("run", ...).
func splitVerb(s string) (string, string) {
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '('
	})
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}

// scriptName normalizes a run target: surrounding parentheses, quotes and a
// trailing ".m" are removed.
func scriptName(arg string) (string, error) {
	if !balanced(arg) {
		return "", engine.Errorf(engine.KindSyntax, "run: unbalanced parentheses in %q", arg)
	}
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(arg), ";"))
	for strings.HasPrefix(name, "(") && strings.HasSuffix(name, ")") {
		name = strings.TrimSpace(name[1 : len(name)-1])
	}
	name = strings.Trim(name, `'"`)
	name = strings.TrimSuffix(name, ".m")
	if name == "" {
		return "", engine.Errorf(engine.KindSyntax, "run: script name is required")
	}
	if strings.ContainsAny(name, "()'\";") || strings.IndexFunc(name, isSpace) >= 0 {
		return "", engine.Errorf(engine.KindSyntax, "run: invalid script name %q", name)
	}
	return name, nil
}

// topicArg turns "doc(x)" style arguments into command syntax.
func topicArg(arg string) (string, error) {
	if !balanced(arg) {
		return "", engine.Errorf(engine.KindSyntax, "unbalanced parentheses in %q", arg)
	}
	topic := strings.TrimSuffix(strings.TrimSpace(arg), ";")
	topic = strings.NewReplacer("(", " ", ")", "").Replace(topic)
	topic = strings.Trim(strings.TrimSpace(topic), `'"`)
	return strings.TrimSpace(topic), nil
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' }
