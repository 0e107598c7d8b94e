package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittoclient/pkg/backend/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t        *testing.T
	endpoint string
	localFs  afero.Fs
}

func newCLI(t *testing.T) *cli {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	name := uuid.NewString()
	t.Cleanup(func() { memory.Forget(name) })
	return &cli{t: t, endpoint: "mem://" + name, localFs: afero.NewMemMapFs()}
}

// run executes one dittoctl invocation with a fresh set of flags.
func (c *cli) run(stdin string, args ...string) (string, error) {
	a := newApp()
	a.localFs = c.localFs

	cmd := a.rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--endpoint", c.endpoint, "--principal", "dr.who", "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, out)
	return out
}

func TestPutListGetRemove(t *testing.T) {
	c := newCLI(t)
	content := []byte(strings.Repeat("age,sex,chol\n", 7) + "9")
	require.NoError(t, afero.WriteFile(c.localFs, "/heart.csv", content, 0644))

	c.mustRun("put", "/heart.csv", "/test/heart.csv")
	assert.Equal(t, "heart.csv\n", c.mustRun("ls", "/test"))

	c.mustRun("get", "/test/heart.csv", "/copy/heart.csv")
	got, err := afero.ReadFile(c.localFs, "/copy/heart.csv")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Equal(t, string(content), c.mustRun("cat", "/test/heart.csv"))

	c.mustRun("rm", "/test/heart.csv")
	assert.Empty(t, c.mustRun("ls", "/test"))
}

func TestWriteFromStdin(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("Writing test", "write", "/test/write.log")
	require.NoError(t, err)
	assert.Equal(t, "Writing test", c.mustRun("cat", "/test/write.log"))
}

func TestRecursiveListingAndRemove(t *testing.T) {
	c := newCLI(t)
	c.mustRun("mkdir", "/a/b", "/c")
	_, err := c.run("x", "write", "/a/b/file.txt")
	require.NoError(t, err)

	assert.Equal(t, "/a/\n/a/b/\n/a/b/file.txt\n/c/\n", c.mustRun("ls", "-r", "/"))

	_, err = c.run("", "rm", "/a")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))

	c.mustRun("rm", "-r", "/a")
	assert.Equal(t, "c/\n", c.mustRun("ls"))
}

func TestLongListingAndStat(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("12345", "write", "/f.txt")
	require.NoError(t, err)

	out := c.mustRun("ls", "-l", "/")
	assert.Contains(t, out, "-rw-r--r--")
	assert.Contains(t, out, "dr.who")
	assert.Contains(t, out, "/f.txt")

	out = c.mustRun("stat", "/f.txt")
	assert.Regexp(t, `Type:\s+file`, out)
	assert.Regexp(t, `Size:\s+5\n`, out)
}

func TestExitCodes(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("", "get", "/missing", "/out")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
	exists, _ := afero.Exists(c.localFs, "/out")
	assert.False(t, exists)

	_, err = c.run("", "--endpoint", "hdfs://namenode/", "ls")
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))

	_, err = c.run("", "put", "/no-such-local-file", "/x")
	require.Error(t, err)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestExclusiveFlag(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, afero.WriteFile(c.localFs, "/src", []byte("v1"), 0644))

	c.mustRun("put", "/src", "/dst")
	_, err := c.run("", "put", "--exclusive", "/src", "/dst")
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCode(err))
	c.mustRun("put", "/src", "/dst")
}

func TestProgressOutput(t *testing.T) {
	c := newCLI(t)
	require.NoError(t, afero.WriteFile(c.localFs, "/big", bytes.Repeat([]byte("x"), 64*1024), 0644))

	c.mustRun("--progress", "put", "/big", "/big")
	c.mustRun("--progress", "get", "/big", "/big-copy")

	got, err := afero.ReadFile(c.localFs, "/big-copy")
	require.NoError(t, err)
	assert.Len(t, got, 64*1024)
}

func TestMetricsEndpointFlag(t *testing.T) {
	c := newCLI(t)
	c.mustRun("--metrics-addr", "127.0.0.1:0", "mkdir", "/m")
	assert.Equal(t, "m/\n", c.mustRun("ls"))
}

func TestInitWritesConfig(t *testing.T) {
	c := newCLI(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	out := c.mustRun("--config", path, "init")
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "endpoint:")

	_, err = c.run("", "--config", path, "init")
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))
	c.mustRun("--config", path, "init", "--force")
}
