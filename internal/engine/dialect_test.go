package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	oct, err := LookupDialect("octave")
	require.NoError(t, err)
	require.Equal(t, "eval('a = 1')", oct.Render(CommandEval, " a = 1 "))
	require.Equal(t, "eval('who')", oct.Render("who", ""))
	require.Equal(t, "eval('help plot')", oct.Render("help", "plot"))
	require.Equal(t, "eval('run myscript')", oct.Render("run", "myscript"))
	require.Equal(t, "eval('s = ''it''''s''')", oct.Render(CommandEval, "s = 'it''s'"))
	require.Equal(t, "", oct.Render(CommandEval, "  "))

	sh, err := LookupDialect("SH")
	require.NoError(t, err)
	require.Equal(t, "eval 'set'", sh.Render("who", ""))
	require.Equal(t, "eval '. ./setup.sh'", sh.Render("run", "./setup.sh"))
	require.Equal(t, `eval 'echo "unterminated'`, sh.Render(CommandEval, `echo "unterminated`))
	require.Equal(t, `eval 'echo '\''x'\'''`, sh.Render(CommandEval, "echo 'x'"))
}

func TestRenderWithoutEvalTemplate(t *testing.T) {
	d := &Dialect{Aliases: map[string]string{"who": "whos"}}
	require.Equal(t, "whos", d.Render("who", ""))
	require.Equal(t, "x = 1", d.Render(CommandEval, "x = 1"))
}

func TestLookupDialectUnknown(t *testing.T) {
	_, err := LookupDialect("fortran")
	require.ErrorContains(t, err, "octave")
}

func TestChangeDirQuoting(t *testing.T) {
	oct, _ := LookupDialect("octave")
	require.Equal(t, "cd('/tmp/it''s')", oct.renderChangeDir("/tmp/it's"))
	sh, _ := LookupDialect("sh")
	require.Equal(t, `cd '/tmp/it'\''s'`, sh.renderChangeDir("/tmp/it's"))
}

func TestSentinels(t *testing.T) {
	oct, _ := LookupDialect("octave")
	out, errOut := oct.sentinels("__M__")
	require.Equal(t, "disp('__M__')", out)
	require.Equal(t, "fprintf(2, '__M__\\n')", errOut)
}

func TestClassify(t *testing.T) {
	oct, _ := LookupDialect("octave")
	err := oct.Classify([]byte("parse error:\n\n  syntax error\n\n>>> x = (1\n"), 0)
	require.ErrorIs(t, err, ErrSyntax)
	require.Equal(t, "parse error:", MessageOf(err))

	err = oct.Classify([]byte("error: 'b' undefined\n"), 0)
	require.ErrorIs(t, err, ErrExecution)
	require.Equal(t, "error: 'b' undefined", MessageOf(err))

	require.NoError(t, oct.Classify([]byte("warning: implicit conversion\n"), 0))

	sh, _ := LookupDialect("sh")
	require.ErrorIs(t, sh.Classify(nil, 1), ErrExecution)
	require.NoError(t, sh.Classify([]byte("noise\n"), 0))

	err = sh.Classify([]byte("sh: 1: eval: Syntax error: Unterminated quoted string\n"), 2)
	require.ErrorIs(t, err, ErrSyntax)
	require.Equal(t, "Syntax error: Unterminated quoted string", MessageOf(err))

	err = sh.Classify([]byte("sh: 1: .: cannot open ./missing.sh: No such file\n"), 2)
	require.ErrorIs(t, err, ErrExecution)
	require.Equal(t, "sh: 1: .: cannot open ./missing.sh: No such file", MessageOf(err))
}
