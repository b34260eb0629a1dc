package zfs

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Binary is the zfs(1) executable invoked for every command that isn't
// explicitly a zpool subcommand (see splitBinary in agent.go).
const Binary = "zfs"

type command struct {
	ctx context.Context
	cmd string
	// prefixArgs is prepended to arg on every invocation - used to route a
	// command through e.g. `ssh host` before the real zfs/zpool invocation.
	prefixArgs []string
	stdin      io.Reader
	stdout     io.Writer
}

func (c *command) fullArgs(arg []string) []string {
	if len(c.prefixArgs) == 0 {
		return arg
	}
	return append(append([]string{}, c.prefixArgs...), arg...)
}

func (c *command) Run(arg ...string) ([][]string, error) {
	cmd := exec.CommandContext(c.ctx, c.cmd, c.fullArgs(arg)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = c.stdout
	cmd.Stderr = &stderr
	if c.stdout == nil {
		cmd.Stdout = &stdout
	}
	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}

	err := cmd.Run()
	if err != nil {
		return nil, createError(cmd, stderr.String(), err)
	}

	// assume if you passed in something for stdout, that you know what to do with it
	if c.stdout != nil {
		return nil, nil
	}

	return splitOutput(stdout.String()), nil
}

// splitOutput splits the tab/whitespace-separated, newline-terminated output of a zfs
// command into its fields, dropping the trailing blank line.
func splitOutput(output string) [][]string {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		// last line is always blank
		lines = lines[0 : len(lines)-1]
	}

	result := make([][]string, len(lines))
	for i, l := range lines {
		result[i] = strings.Fields(l)
	}
	return result
}

// splitTabbedOutput splits `-H`-formatted zfs output by tab, preserving empty fields -
// used wherever a field value (e.g. a snapshot tag list) might legitimately be empty.
func splitTabbedOutput(output string) [][]string {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[0 : len(lines)-1]
	}

	result := make([][]string, len(lines))
	for i, l := range lines {
		result[i] = strings.Split(l, "\t")
	}
	return result
}

// RunTabbed behaves like Run but preserves empty fields, for callers that parse
// `-H` tab-separated output directly (the snapshot agent).
func (c *command) RunTabbed(arg ...string) ([][]string, error) {
	cmd := exec.CommandContext(c.ctx, c.cmd, c.fullArgs(arg)...)
	cmd.SysProcAttr = procAttributes()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = c.stdout
	cmd.Stderr = &stderr
	if c.stdout == nil {
		cmd.Stdout = &stdout
	}
	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}

	err := cmd.Run()
	if err != nil {
		return nil, createError(cmd, stderr.String(), err)
	}
	if c.stdout != nil {
		return nil, nil
	}
	return splitTabbedOutput(stdout.String()), nil
}

const shortnameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomShortname generates a 10-character alphanumeric snapshot shortname,
// used by the create operation when the caller does not supply one.
func RandomShortname() string {
	buf := make([]byte, 10)
	_, _ = rand.Read(buf)
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = shortnameAlphabet[int(b)%len(shortnameAlphabet)]
	}
	return string(out)
}

func propsSlice(properties map[string]string) []string {
	args := make([]string, 0, len(properties)*3)
	for k, v := range properties {
		args = append(args, "-o")
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	return args
}
