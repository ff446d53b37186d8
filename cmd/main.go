package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"stackvm/internal/logger"
	"stackvm/internal/runner"
	"stackvm/pkg/color"
)

// Main entry point for the stackvm driver.
func main() {
	options := runner.Runner{}

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.Trace, "t", false, "Trace every instruction")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.BoolVar(&options.Disassemble, "d", false, "Disassemble instead of running")
	flag.StringVar(&options.ConfigFile, "config", "", "Configuration file (default: stackvm.toml next to the program)")
	flag.StringVar(&options.TraceFile, "trace-file", "", "Write the trace to this file instead of stderr")
	flag.StringVar(&options.ImageOut, "o", "", "Save the loaded program as a binary image")
	flag.IntVar(&options.StackLimit, "stack", 0, "Operand stack limit")
	flag.IntVar(&options.CallLimit, "calls", 0, "Call stack limit")
	flag.IntVar(&options.MaxSteps, "max-steps", 0, "Stop after this many instructions")

	flag.Parse()
	args := flag.Args()

	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] <file>\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if options.NoColor {
		color.EnableColor(false)
	}

	if len(args) == 0 {
		log.Fatal("No input file provided", "help", fmt.Sprintf("%s -h", os.Args[0]))
	}

	options.SourceFile = args[0]

	if err := options.Run(); err != nil {
		log.Fatal("Run failed", "error", err)
	}
}
