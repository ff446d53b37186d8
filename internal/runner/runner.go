package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"stackvm/internal/config"
	"stackvm/pkg/asm"
	"stackvm/pkg/bytecode"
	"stackvm/pkg/color"
	"stackvm/pkg/image"
	"stackvm/pkg/trace"
	"stackvm/pkg/vm"
)

type Runner struct {
	Help        bool   // Show help message
	Verbose     bool   // Enable debug logging
	Trace       bool   // Emit the execution trace
	NoColor     bool   // Disable colored output
	Disassemble bool   // List the program instead of running it
	ConfigFile  string // Path to a stackvm.toml; empty looks next to the source
	TraceFile   string // Trace destination; empty means stderr
	ImageOut    string // Write the loaded program as an image to this path
	SourceFile  string // Assembly text or program image to run

	StackLimit int // Overrides limits.operand_stack when > 0
	CallLimit  int // Overrides limits.call_stack when > 0
	MaxSteps   int // Overrides limits.max_steps when > 0

	Stdout io.Writer
	Stderr io.Writer
}

// Run loads the source file, optionally saves or lists it, and executes it.
func (opts *Runner) Run() error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	log.Info("Processing file", "file", opts.SourceFile)

	cfg, err := opts.config()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	prog, err := opts.load()
	if err != nil {
		return err
	}

	if opts.ImageOut != "" {
		if err := image.Save(opts.ImageOut, prog); err != nil {
			return err
		}
		log.Info("Wrote image", "file", opts.ImageOut, "bytes", len(prog.Code))
	}

	if opts.Disassemble {
		return opts.list(prog)
	}

	return opts.execute(prog, cfg)
}

func (opts *Runner) config() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
	} else {
		cfg, err = config.FindAndLoad(filepath.Dir(opts.SourceFile))
	}
	if err != nil {
		return nil, err
	}

	if opts.StackLimit > 0 {
		cfg.Limits.OperandStack = opts.StackLimit
	}
	if opts.CallLimit > 0 {
		cfg.Limits.CallStack = opts.CallLimit
	}
	if opts.MaxSteps > 0 {
		cfg.Limits.MaxSteps = opts.MaxSteps
	}
	if opts.Trace {
		cfg.Trace.Enabled = true
	}
	if opts.TraceFile != "" {
		cfg.Trace.Enabled = true
		cfg.Trace.File = opts.TraceFile
	}

	if cfg.Path != "" {
		log.Debug("Loaded configuration", "file", cfg.Path)
	}
	return cfg, nil
}

// load reads a program image or assembles program text.
func (opts *Runner) load() (*bytecode.Program, error) {
	data, err := os.ReadFile(opts.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.SourceFile, err)
	}

	if image.IsImage(data) {
		prog, err := image.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		log.Debug("Loaded image", "file", opts.SourceFile, "bytes", len(prog.Code))
		return prog, nil
	}

	prog, err := asm.Parse(string(data))
	if err != nil {
		fmt.Fprintln(opts.Stderr, color.Error(fmt.Sprintf("%s:%v", opts.SourceFile, err)))
		return nil, fmt.Errorf("assembly failed: %w", err)
	}
	log.Debug("Assembled", "file", opts.SourceFile, "bytes", len(prog.Code),
		"strings", len(prog.Constants), "functions", len(prog.Functions))
	return prog, nil
}

func (opts *Runner) list(prog *bytecode.Program) error {
	fmt.Fprintln(opts.Stdout, color.Heading("=== Disassembly ==="))
	for addr := 0; addr < len(prog.Code); {
		in, err := bytecode.Decode(prog.Code, addr)
		if err != nil {
			return fmt.Errorf("disassembly failed: %w", err)
		}
		if fn, ok := prog.FunctionAt(addr); ok {
			fmt.Fprintf(opts.Stdout, "%s:\n", fn.Name)
		}
		fmt.Fprintln(opts.Stdout, color.Instruction(addr, in.Op.String(), in.OperandText()))
		addr = in.Next()
	}
	return nil
}

func (opts *Runner) execute(prog *bytecode.Program, cfg *config.Config) error {
	vmOpts := append(cfg.Options(), vm.WithWriter(opts.Stdout))

	var tw *trace.Writer
	if cfg.Trace.Enabled {
		dst := opts.Stderr
		if cfg.Trace.File != "" {
			f, err := os.Create(cfg.Trace.File)
			if err != nil {
				return fmt.Errorf("cannot create trace file: %w", err)
			}
			defer f.Close()
			dst = f
		}
		tw = trace.NewWriter(dst)
		vmOpts = append(vmOpts, vm.WithTrace(tw))
	}

	id := uuid.NewString()
	log.Info("Running", "run", id, "entry", prog.Entry().Name,
		"stack", cfg.Limits.OperandStack, "calls", cfg.Limits.CallStack)

	m := vm.New(prog, vmOpts...)
	err := m.Run()

	if tw != nil && tw.Err() != nil {
		log.Warn("Trace output failed", "run", id, "error", tw.Err())
	}

	if err != nil {
		var f *vm.Fault
		if errors.As(err, &f) {
			fmt.Fprintln(opts.Stderr, color.Fault(f.IP, f.Error()))
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	if n := m.LiveStrings(); n > 0 {
		fmt.Fprintln(opts.Stderr, color.Warning(fmt.Sprintf("%d string(s) never released", n)))
		log.Debug("Leaked strings", "run", id, "count", n)
	}
	log.Info("Finished", "run", id, "steps", m.Steps())
	return nil
}
