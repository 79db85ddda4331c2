//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives a line through the Linux GPIO character device.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	name string
}

// Open claims line on /dev/gpiochip<chip>. Output lines start low.
func Open(chip, line uint, dir Direction) (*RealOutput, error) {
	name := ChipName(chip)
	c, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("sensor-trigger"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}

	var opt gpiocdev.LineReqOption = gpiocdev.AsOutput(int(Low))
	if dir == DirInput {
		opt = gpiocdev.AsInput
	}
	l, err := c.RequestLine(int(line), opt)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request %s line %d: %w", name, line, err)
	}

	return &RealOutput{chip: c, line: l, name: name}, nil
}

// OpenOutput is an Opener backed by the character device.
func OpenOutput(chip, line uint, dir Direction) (Output, error) {
	o, err := Open(chip, line, dir)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Set drives the line to level.
func (o *RealOutput) Set(level Level) error {
	if err := o.line.SetValue(int(level)); err != nil {
		return fmt.Errorf("set %s line %d %s: %w", o.name, o.line.Offset(), level, err)
	}
	return nil
}

// Close releases GPIO resources.
// Drives the line low and reconfigures it as input before closing so the
// sensor never sees a stuck trigger across a restart.
func (o *RealOutput) Close() error {
	var errs []error

	if o.line != nil {
		if err := o.line.SetValue(int(Low)); err != nil {
			errs = append(errs, fmt.Errorf("drive line low: %w", err))
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
