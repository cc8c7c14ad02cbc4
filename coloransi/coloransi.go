// Package coloransi paints terminal output with ANSI escape codes. Painting
// is global and can be switched off for pipes and --no-color.
package coloransi

import (
	"fmt"
	"sync/atomic"
)

// ColorCode is an ANSI foreground color, or an RGB color when its upper 24
// bits are set.
type ColorCode uint32

const (
	Black   ColorCode = 30
	Red     ColorCode = 31
	Green   ColorCode = 32
	Yellow  ColorCode = 33
	Blue    ColorCode = 34
	Magenta ColorCode = 35
	Cyan    ColorCode = 36
	White   ColorCode = 37

	BrightBlack  ColorCode = Black + 60
	BrightRed    ColorCode = Red + 60
	BrightGreen  ColorCode = Green + 60
	BrightYellow ColorCode = Yellow + 60
	BrightCyan   ColorCode = Cyan + 60

	// BackgroundOffset turns a foreground code into its background code
	BackgroundOffset ColorCode = 10

	RGBMask ColorCode = 0xFFFFFF00
)

// RGB returns a 24-bit color.
func RGB(r, g, b uint8) ColorCode {
	return ColorCode(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8)
}

var ColorOrange = RGB(255, 140, 0)

func (c ColorCode) IsRGB() bool {
	return c&RGBMask != 0
}

func (c ColorCode) rgb() (uint8, uint8, uint8) {
	return uint8(c >> 24), uint8(c >> 16), uint8(c >> 8)
}

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// SetEnabled switches painting on or off.
func SetEnabled(on bool) {
	enabled.Store(on)
}

func Enabled() bool {
	return enabled.Load()
}

// Foreground returns the escape that selects c as text color.
func Foreground(c ColorCode) string {
	if c.IsRGB() {
		r, g, b := c.rgb()
		return fmt.Sprintf("\033[38;2;%d;%d;%dm", r, g, b)
	}
	return fmt.Sprintf("\033[%dm", c)
}

// Background returns the escape that selects c as background color.
func Background(c ColorCode) string {
	if c.IsRGB() {
		r, g, b := c.rgb()
		return fmt.Sprintf("\033[48;2;%d;%d;%dm", r, g, b)
	}
	return fmt.Sprintf("\033[%dm", c+BackgroundOffset)
}

func Reset() string {
	return "\033[0m"
}

// Paint wraps text in c, or returns it unchanged when painting is off.
func Paint(c ColorCode, text string) string {
	if !Enabled() {
		return text
	}
	return Foreground(c) + text + Reset()
}

// Highlight paints text fg on bg.
func Highlight(fg, bg ColorCode, text string) string {
	if !Enabled() {
		return text
	}
	return Foreground(fg) + Background(bg) + text + Reset()
}
