package asm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// Toolchain runs the system C compiler driver to turn assembly into object
// files and executables. The compiler emits absolute (non-PIC) references,
// so executables are always linked with -no-pie.
type Toolchain struct {
	CC      string
	Timeout time.Duration
	Verbose func(args []string) // called with each command line before it runs
}

func NewToolchain() *Toolchain {
	return &Toolchain{CC: "gcc", Timeout: DefaultTimeout}
}

// Available reports whether the driver can be found on PATH.
func (t *Toolchain) Available() bool {
	_, err := exec.LookPath(t.CC)
	return err == nil
}

// Assemble turns one .s file into an object file.
func (t *Toolchain) Assemble(ctx context.Context, asmPath, objPath string) error {
	return t.run(ctx, "-c", asmPath, "-o", objPath)
}

// Link produces an executable from .s or .o inputs.
func (t *Toolchain) Link(ctx context.Context, inputs []string, exePath string) error {
	args := []string{"-no-pie", "-o", exePath}
	args = append(args, inputs...)
	return t.run(ctx, args...)
}

func (t *Toolchain) run(ctx context.Context, args ...string) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	if t.Verbose != nil {
		t.Verbose(append([]string{t.CC}, args...))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.CC, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s %s: %w", t.CC, strings.Join(args, " "), err)
		}
		return fmt.Errorf("%s %s: %w\n%s", t.CC, strings.Join(args, " "), err, msg)
	}
	return nil
}
