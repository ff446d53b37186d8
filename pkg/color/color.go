package color

import (
	"fmt"

	"github.com/muesli/termenv"
)

var profile = termenv.EnvColorProfile()

// EnableColor switches colored output on (using the environment's profile)
// or off.
func EnableColor(enable bool) {
	if enable {
		profile = termenv.EnvColorProfile()
		return
	}
	profile = termenv.Ascii
}

func IsColorEnabled() bool {
	return profile != termenv.Ascii
}

// paint colors text, or returns it unchanged when color is off.
func paint(text string, c termenv.Color, bold bool) string {
	if !IsColorEnabled() {
		return text
	}
	s := profile.String(text).Foreground(c)
	if bold {
		s = s.Bold()
	}
	return s.String()
}

// Address renders an instruction address as in traces: zero-padded to 4.
func Address(ip int) string {
	return paint(fmt.Sprintf("%04d", ip), termenv.ANSICyan, false)
}

// Mnemonic renders an opcode name.
func Mnemonic(name string) string {
	return paint(name, termenv.ANSIYellow, false)
}

// Operand renders instruction operands.
func Operand(text string) string {
	return paint(text, termenv.ANSIBlue, false)
}

// Heading renders a section title.
func Heading(text string) string {
	return paint(text, termenv.ANSIGreen, true)
}

func Error(message string) string {
	return paint("Error: ", termenv.ANSIBrightRed, true) + message
}

func Warning(message string) string {
	return paint("Warning: ", termenv.ANSIYellow, false) + message
}

// Fault renders an execution fault with the address that raised it.
func Fault(ip int, message string) string {
	return fmt.Sprintf("%s at %s: %s",
		paint("Fault", termenv.ANSIBrightRed, true),
		Address(ip),
		message)
}

// Instruction renders one disassembled instruction line.
func Instruction(ip int, name, operands string) string {
	if operands == "" {
		return fmt.Sprintf("%s:  %s", Address(ip), Mnemonic(name))
	}
	return fmt.Sprintf("%s:  %s %s", Address(ip), Mnemonic(name), Operand(operands))
}
