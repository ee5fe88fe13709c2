package toolchain

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/x360make/internal/config"
)

// Tool names as they appear in logs and errors.
const (
	ToolCompiler = "compiler"
	ToolLinker   = "linker"
	ToolPacker   = "packer"
	ToolMake     = "make"
)

// Toolchain builds the concrete command lines for each step.
type Toolchain struct {
	cfg    config.ToolchainConfig
	runner Runner
}

// New returns a Toolchain running commands through runner.
func New(cfg config.ToolchainConfig, runner Runner) *Toolchain {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Toolchain{cfg: cfg, runner: runner}
}

// Resolve maps a configured tool path to what is executed. Bare names are
// left for PATH lookup; other relative paths are anchored at the toolchain
// root.
func (t *Toolchain) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || !strings.ContainsAny(p, `/\`) {
		return p
	}
	if t.cfg.Root == "" {
		return p
	}
	return filepath.Join(t.cfg.Root, filepath.FromSlash(p))
}

// Compile turns one source file into one object file:
// <compiler> -c src -o obj [args] -I<inc>...
func (t *Toolchain) Compile(ctx context.Context, dir, src, obj string, includeDirs []string) (Result, error) {
	args := []string{"-c", src, "-o", obj}
	args = append(args, t.cfg.Compiler.Args...)
	for _, inc := range includeDirs {
		args = append(args, "-I"+inc)
	}
	return t.runner.Run(ctx, Command{Name: ToolCompiler, Path: t.Resolve(t.cfg.Compiler.Path), Args: args, Dir: dir})
}

// Link combines objects, in the given order, into out:
// <linker> [args] [-T script] objects... -o out
func (t *Toolchain) Link(ctx context.Context, dir string, objects []string, out string) (Result, error) {
	args := append([]string{}, t.cfg.Linker.Args...)
	if t.cfg.Linker.Script != "" {
		args = append(args, "-T", t.Resolve(t.cfg.Linker.Script))
	}
	args = append(args, objects...)
	args = append(args, "-o", out)
	return t.runner.Run(ctx, Command{Name: ToolLinker, Path: t.Resolve(t.cfg.Linker.Path), Args: args, Dir: dir})
}

var percentPattern = regexp.MustCompile(`(\d{1,3})\s*%`)

// Pack converts the linked image into the final artifact. Percentages the
// packer prints are passed to progress as they appear.
func (t *Toolchain) Pack(ctx context.Context, dir, image, out string, progress func(percent int)) (Result, error) {
	args := append([]string{}, t.cfg.Packer.Args...)
	args = append(args, image, out)
	cmd := Command{Name: ToolPacker, Path: t.Resolve(t.cfg.Packer.Path), Args: args, Dir: dir}
	if progress != nil {
		cmd.OnStdoutLine = func(line string) {
			if p, ok := ParsePercent(line); ok {
				progress(p)
			}
		}
	}
	return t.runner.Run(ctx, cmd)
}

// Make runs the make tool against dir: <make> [args] -C dir
func (t *Toolchain) Make(ctx context.Context, dir string) (Result, error) {
	args := append([]string{}, t.cfg.Make.Args...)
	args = append(args, "-C", dir)
	return t.runner.Run(ctx, Command{Name: ToolMake, Path: t.Resolve(t.cfg.Make.Path), Args: args})
}

// ParsePercent extracts the last NN% value on a line, clamped to [0,100].
func ParsePercent(line string) (int, bool) {
	m := percentPattern.FindAllStringSubmatch(line, -1)
	if len(m) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil {
		return 0, false
	}
	return min(max(n, 0), 100), true
}
