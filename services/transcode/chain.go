package transcode

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"
)

// Chain runs one or more external processes wired stdout-to-stdin in
// sequence and exposes the final stdout as a readable stream. The chain
// exclusively owns its processes and scratch files: Close releases both
// on every exit path.
type Chain struct {
	cmds []*exec.Cmd
	out  io.ReadCloser

	tempsMu sync.Mutex
	temps   []string

	waitOnce sync.Once
	waitErr  error

	closeOnce sync.Once
}

// ChainOption customizes a chain before it starts.
type ChainOption func(*Chain)

// WithScratchFile registers a temp file removed when the chain closes.
func WithScratchFile(path string) ChainOption {
	return func(c *Chain) {
		c.tempsMu.Lock()
		c.temps = append(c.temps, path)
		c.tempsMu.Unlock()
	}
}

// StartChain spawns every step, piping step n's stdout into step n+1's
// stdin. The first step reads input when non-nil. If any step fails to
// start, every already-started process is killed and reaped before the
// error returns.
func StartChain(ctx context.Context, steps [][]string, input io.Reader, opts ...ChainOption) (*Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("no chain steps")
	}

	c := &Chain{}
	for _, opt := range opts {
		opt(c)
	}

	var prev io.Reader = input
	for i, argv := range steps {
		if len(argv) == 0 {
			c.abort()
			return nil, fmt.Errorf("chain step %d is empty", i)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = prev
		cmd.Stderr = nil

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			c.abort()
			return nil, fmt.Errorf("chain step %d stdout: %w", i, err)
		}

		if err := cmd.Start(); err != nil {
			c.abort()
			return nil, fmt.Errorf("chain step %d (%s) start: %w", i, argv[0], err)
		}

		log.Printf("[transcode] started %s (pid %d)", argv[0], cmd.Process.Pid)
		c.cmds = append(c.cmds, cmd)
		prev = stdout
		c.out = stdout
	}

	return c, nil
}

// Read reads from the final process's stdout.
func (c *Chain) Read(p []byte) (int, error) {
	return c.out.Read(p)
}

// Wait reaps every process and returns the final step's exit error. It
// is safe to call multiple times and concurrently with Close.
func (c *Chain) Wait() error {
	c.waitOnce.Do(func() {
		for i, cmd := range c.cmds {
			err := cmd.Wait()
			if i == len(c.cmds)-1 {
				c.waitErr = err
			}
		}
	})
	return c.waitErr
}

// Close terminates every process in the chain, reaps them, and removes
// any scratch files. Idempotent; always returns nil.
func (c *Chain) Close() error {
	c.closeOnce.Do(func() {
		for _, cmd := range c.cmds {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
		_ = c.Wait()
		if c.out != nil {
			_ = c.out.Close()
		}
		c.removeTemps()
	})
	return nil
}

// abort cleans up a partially started chain.
func (c *Chain) abort() {
	for _, cmd := range c.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}
	c.removeTemps()
}

func (c *Chain) removeTemps() {
	c.tempsMu.Lock()
	defer c.tempsMu.Unlock()
	for _, path := range c.temps {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[transcode] failed to remove scratch file %s: %v", path, err)
		}
	}
	c.temps = nil
}

// PortableInputPath returns a path safe to hand to external encoders.
// Paths containing invalid UTF-8 or control characters trip up some
// transcoder CLIs, so the file is copied to a scratch location with a
// plain name; the caller must register the returned scratch path with
// the chain via WithScratchFile so it is deleted on close.
func PortableInputPath(path string) (usable string, scratch bool, err error) {
	if portableFilename(path) {
		return path, false, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "airstream-input-*")
	if err != nil {
		return "", false, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", false, err
	}
	return tmp.Name(), true, nil
}

func portableFilename(path string) bool {
	if !utf8.ValidString(path) {
		return false
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
