package coloransi

import "testing"

func TestPaint(t *testing.T) {
	defer SetEnabled(true)

	if got := Paint(Red, "x"); got != "\033[31mx\033[0m" {
		t.Errorf("Paint = %q", got)
	}
	if got := Highlight(Black, Yellow, "x"); got != "\033[30m\033[43mx\033[0m" {
		t.Errorf("Highlight = %q", got)
	}
	if got := Foreground(ColorOrange); got != "\033[38;2;255;140;0m" {
		t.Errorf("rgb = %q", got)
	}

	SetEnabled(false)
	if got := Paint(Red, "x"); got != "x" {
		t.Errorf("disabled Paint = %q", got)
	}
}
