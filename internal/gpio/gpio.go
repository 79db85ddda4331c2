// Package gpio provides a digital output line with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Level is the logic level of a line.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Direction selects how a line is claimed. Trigger lines are claimed as
// outputs; an input claim can be read back but never driven.
type Direction int

const (
	DirOutput Direction = iota
	DirInput
)

// Output drives a single claimed GPIO line.
type Output interface {
	// Set drives the line to the given level.
	// An error means the transition did not happen.
	Set(level Level) error

	// Close releases the line.
	Close() error
}

// Opener claims a line on a chip. Both numbers come from the GPIO mapping file.
type Opener func(chip, line uint, dir Direction) (Output, error)

// ChipName returns the character device name for a chip number.
func ChipName(chip uint) string {
	return fmt.Sprintf("gpiochip%d", chip)
}
