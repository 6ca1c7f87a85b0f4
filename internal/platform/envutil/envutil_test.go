package envutil

import (
	"testing"
	"time"
)

func TestStr(t *testing.T) {
	t.Setenv("X_STR", "  value  ")
	if got := Str("X_STR", "def"); got != "value" {
		t.Fatalf("want=%q got=%q", "value", got)
	}
	if got := Str("X_STR_MISSING", "def"); got != "def" {
		t.Fatalf("want=%q got=%q", "def", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("X_INT", "42")
	if got := Int("X_INT", 7); got != 42 {
		t.Fatalf("want=42 got=%d", got)
	}
	t.Setenv("X_INT_BAD", "forty-two")
	if got := Int("X_INT_BAD", 7); got != 7 {
		t.Fatalf("bad value must fall back: got=%d", got)
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("X_FLOAT", "0.015")
	if got := Float("X_FLOAT", 1); got != 0.015 {
		t.Fatalf("want=0.015 got=%v", got)
	}
	if got := Float("X_FLOAT_MISSING", 0.3); got != 0.3 {
		t.Fatalf("want=0.3 got=%v", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	if got := Duration("X_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("want=90s got=%v", got)
	}
	t.Setenv("X_DUR_BARE", "30")
	if got := Duration("X_DUR_BARE", time.Minute); got != 30*time.Second {
		t.Fatalf("bare integer must read as seconds: got=%v", got)
	}
	t.Setenv("X_DUR_BAD", "soon")
	if got := Duration("X_DUR_BAD", time.Minute); got != time.Minute {
		t.Fatalf("bad value must fall back: got=%v", got)
	}
}
