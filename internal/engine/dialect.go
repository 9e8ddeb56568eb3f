package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// CommandEval is the generic entry point: its argument is sent verbatim.
const CommandEval = "eval"

const markerPlaceholder = "{marker}"

// Dialect describes how to talk to one interpreter: how a command is
// rendered, how completion is signalled on each stream, and how failures
// are recognised in stderr.
type Dialect struct {
	Name    string
	Command string
	Args    []string

	// Statements that print {marker} on stdout / stderr once the preceding
	// command has finished. The stdout marker may be followed by ":<status>".
	StdoutSentinel string
	StderrSentinel string
	// ChangeDir is a statement template; {dir} is replaced with the quoted path.
	ChangeDir string
	// Eval wraps every rendered statement so the interpreter parses it on
	// its own; {stmt} is replaced with the quoted statement. An incomplete
	// statement then fails inside the wrapper instead of swallowing the
	// sentinel lines that follow it.
	Eval      string
	Init      []string
	Aliases   map[string]string
	Quote     func(string) string

	SyntaxPatterns    []*regexp.Regexp
	ExecutionPatterns []*regexp.Regexp
}

var dialects = map[string]*Dialect{
	"octave": {
		Name:           "octave",
		Command:        "octave-cli",
		Args:           []string{"--quiet", "--no-gui", "--interactive", "--no-line-editing", "--no-history"},
		StdoutSentinel: "disp('{marker}')",
		StderrSentinel: "fprintf(2, '{marker}\\n')",
		ChangeDir:      "cd({dir})",
		Eval:           "eval({stmt})",
		Init:           []string{"PS1('')", "PS2('')", "more off"},
		Quote:          quoteSingleDoubled,
		SyntaxPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)parse error`),
		},
		ExecutionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^error: `),
		},
	},
	"matlab": {
		Name:           "matlab",
		Command:        "matlab",
		Args:           []string{"-nodesktop", "-nosplash", "-nodisplay"},
		StdoutSentinel: "disp('{marker}')",
		StderrSentinel: "fprintf(2, '{marker}\\n')",
		ChangeDir:      "cd({dir})",
		Eval:           "eval({stmt})",
		Init:           []string{"more off"},
		Quote:          quoteSingleDoubled,
		SyntaxPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(invalid expression|parse error|unbalanced or unexpected parenthesis|invalid use of operator)`),
		},
		ExecutionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^(Error|\?\?\? )`),
		},
	},
	"sh": {
		Name:           "sh",
		Command:        "sh",
		// Interactive, so a failing special builtin such as "." or "eval"
		// reports an error instead of ending the shell. Job control stays off.
		Args:           []string{"-i", "+m"},
		StdoutSentinel: "echo \"{marker}:$?\"",
		StderrSentinel: "echo '{marker}' >&2",
		ChangeDir:      "cd {dir}",
		Eval:           "eval {stmt}",
		Init:           []string{"PS1=''", "PS2=''"},
		Aliases: map[string]string{
			"who": "set",
			"doc": "man",
			"run": ".",
		},
		Quote: quoteShell,
		SyntaxPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)syntax error`),
		},
		ExecutionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^.*(cannot open|can't open|No such file or directory)`),
		},
	},
}

// LookupDialect returns the named dialect.
func LookupDialect(name string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(DialectNames(), ", "))
	}
	return d, nil
}

func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render turns a named command into the statement sent to the interpreter.
func (d *Dialect) Render(name, arg string) string {
	arg = strings.TrimSpace(arg)
	stmt := arg
	if name != CommandEval {
		if alias, ok := d.Aliases[name]; ok {
			name = alias
		}
		stmt = name
		if arg != "" {
			stmt += " " + arg
		}
	}
	if stmt == "" || d.Eval == "" {
		return stmt
	}
	return strings.ReplaceAll(d.Eval, "{stmt}", d.quote(stmt))
}

func (d *Dialect) renderChangeDir(dir string) string {
	return strings.ReplaceAll(d.ChangeDir, "{dir}", d.quote(dir))
}

func (d *Dialect) quote(s string) string {
	if d.Quote == nil {
		return quoteSingleDoubled(s)
	}
	return d.Quote(s)
}

func (d *Dialect) sentinels(marker string) (string, string) {
	return strings.ReplaceAll(d.StdoutSentinel, markerPlaceholder, marker),
		strings.ReplaceAll(d.StderrSentinel, markerPlaceholder, marker)
}

// Classify inspects a finished call's stderr and exit status.
func (d *Dialect) Classify(stderr []byte, status int) error {
	for _, re := range d.SyntaxPatterns {
		if loc := re.FindIndex(stderr); loc != nil {
			return &Error{Kind: KindSyntax, Message: firstLineAt(stderr, loc[0])}
		}
	}
	for _, re := range d.ExecutionPatterns {
		if loc := re.FindIndex(stderr); loc != nil {
			return &Error{Kind: KindExecution, Message: firstLineAt(stderr, loc[0])}
		}
	}
	if status != 0 {
		return Errorf(KindExecution, "exit status %d", status)
	}
	return nil
}

func firstLineAt(b []byte, at int) string {
	rest := string(b[at:])
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

func quoteSingleDoubled(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
