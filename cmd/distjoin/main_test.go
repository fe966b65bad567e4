package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	distio "github.com/paveg/distjoin/internal/io"
	"github.com/paveg/distjoin/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeInputs(t *testing.T) (dir, left, right string) {
	t.Helper()
	dir = t.TempDir()
	left = filepath.Join(dir, "left.csv")
	right = filepath.Join(dir, "right.csv")
	require.NoError(t, os.WriteFile(left, []byte("id,v\n1,a\n2,b\n3,c\n"), 0o600))
	require.NoError(t, os.WriteFile(right, []byte("id,w\n1,x\n1,y\n3,z\n4,q\n"), 0o600))
	return dir, left, right
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "distjoin distributed join engine")
}

func TestJoinCommand(t *testing.T) {
	for _, layouts := range [][2]string{{"even", "even"}, {"uneven", "replicated"}, {"replicated", "replicated"}} {
		t.Run(layouts[0]+"_"+layouts[1], func(t *testing.T) {
			dir, left, right := writeInputs(t)
			outPath := filepath.Join(dir, "out.csv")

			_, err := execute(t, "join", "--workers", "2",
				"--left", left, "--right", right, "--left-key", "id",
				"--left-layout", layouts[0], "--right-layout", layouts[1],
				"--columns", "v,w", "--out", outPath)
			require.NoError(t, err)

			df, err := distio.ReadFile(t.Context(), outPath, memory.DefaultAllocator)
			require.NoError(t, err)
			defer df.Release()
			assert.Equal(t, []string{"v", "w"}, df.Columns())
			assert.Equal(t, []string{"a|x", "a|y", "c|z"}, testutil.Rows(t, df, "v", "w"))
		})
	}
}

func TestJoinCommand_Stdout(t *testing.T) {
	_, left, right := writeInputs(t)

	out, err := execute(t, "join", "-w", "3", "--left", left, "--right", right,
		"--left-key", "id", "--right-key", "id", "--columns", "id,v,w", "--balanced")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,v,w", lines[0])
	assert.ElementsMatch(t, []string{"1,a,x", "1,a,y", "3,c,z"}, lines[1:])
}

func TestJoinCommand_Explain(t *testing.T) {
	_, left, right := writeInputs(t)

	out, err := execute(t, "join", "--workers", "2", "--left", left, "--right", right,
		"--left-key", "id", "--right-layout", "replicated", "--explain")
	require.NoError(t, err)
	assert.Contains(t, out, "out = join [id=id]")
	assert.Contains(t, out, "return out")
}

func TestJoinCommand_Errors(t *testing.T) {
	dir, left, right := writeInputs(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing flags",
			args: []string{"join", "--left", left},
			want: `required flag(s) "left-key", "right" not set`,
		},
		{
			name: "unknown layout",
			args: []string{"join", "--left", left, "--right", right, "--left-key", "id", "--left-layout", "diagonal"},
			want: `unknown layout "diagonal"`,
		},
		{
			name: "missing key",
			args: []string{"join", "--left", left, "--right", right, "--left-key", "nope"},
			want: "nope",
		},
		{
			name: "missing input",
			args: []string{"join", "--left", filepath.Join(dir, "none.csv"), "--right", right, "--left-key", "id"},
			want: "none.csv",
		},
		{
			name: "no workers",
			args: []string{"join", "--workers", "0", "--left", left, "--right", right, "--left-key", "id"},
			want: "worker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDemoCommand(t *testing.T) {
	for _, args := range [][]string{
		{"demo", "--rows", "100", "--workers", "3"},
		{"demo", "--rows", "100", "--workers", "3", "--balanced"},
		{"demo", "--rows", "100", "--workers", "3", "--replicated"},
	} {
		t.Run(strings.Join(args[5:], ""), func(t *testing.T) {
			out, err := execute(t, args...)
			require.NoError(t, err)
			assert.Contains(t, out, "orders: 100 rows, customers: 10 rows, workers: 3")
			assert.Contains(t, out, "joined 90 rows")
			assert.Contains(t, out, "worker 2:")
		})
	}
}

func TestConfigFlag(t *testing.T) {
	dir, left, right := writeInputs(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("right_suffix: _r\n"), 0o600))
	clash := filepath.Join(dir, "clash.csv")
	require.NoError(t, os.WriteFile(clash, []byte("id,v\n1,x\n"), 0o600))

	out, err := execute(t, "join", "--config", cfgPath, "--workers", "2",
		"--left", left, "--right", clash, "--left-key", "id", "--explain")
	require.NoError(t, err)
	assert.Contains(t, out, "v_r")

	require.NoError(t, os.WriteFile(cfgPath, []byte("max_parallelism: -3\n"), 0o600))
	_, err = execute(t, "join", "--config", cfgPath, "--left", left, "--right", right, "--left-key", "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxParallelism")
}
