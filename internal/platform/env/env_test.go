package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("ENV_STRING_DOES_NOT_EXIST", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	t.Setenv("ENV_STRING_KEY", "value")
	if got := String("ENV_STRING_KEY", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("Duration()=%v err=%v, want 5s", got, err)
	}
	t.Setenv("ENV_DURATION_KEY", "250ms")
	got, err = Duration("ENV_DURATION_KEY", 5*time.Second)
	if err != nil || got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v err=%v, want 250ms", got, err)
	}
	t.Setenv("ENV_DURATION_KEY", "not-a-duration")
	if _, err := Duration("ENV_DURATION_KEY", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("ENV_BOOL_KEY", "false")
	b, err := Bool("ENV_BOOL_KEY", true)
	if err != nil || b {
		t.Fatalf("Bool()=%v err=%v, want false", b, err)
	}
	t.Setenv("ENV_INT_KEY", "12")
	i, err := Int("ENV_INT_KEY", 3)
	if err != nil || i != 12 {
		t.Fatalf("Int()=%d err=%v, want 12", i, err)
	}
	t.Setenv("ENV_INT_KEY", "twelve")
	if _, err := Int("ENV_INT_KEY", 3); err == nil {
		t.Fatalf("Int() expected error")
	}
}

func TestFloat(t *testing.T) {
	got, err := Float("ENV_FLOAT_DOES_NOT_EXIST", 0.5)
	if err != nil || got != 0.5 {
		t.Fatalf("Float()=%v err=%v, want 0.5", got, err)
	}
	t.Setenv("ENV_FLOAT_KEY", "2.25")
	got, err = Float("ENV_FLOAT_KEY", 0)
	if err != nil || got != 2.25 {
		t.Fatalf("Float()=%v err=%v, want 2.25", got, err)
	}
	t.Setenv("ENV_FLOAT_KEY", "fast")
	if _, err := Float("ENV_FLOAT_KEY", 0); err == nil {
		t.Fatalf("Float() expected error")
	}
}

func TestBlankFallsBackToDefault(t *testing.T) {
	t.Setenv("ENV_BLANK_KEY", "  ")
	if got := String("ENV_BLANK_KEY", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
	if got, err := Int("ENV_BLANK_KEY", 7); err != nil || got != 7 {
		t.Fatalf("Int()=%d err=%v, want 7", got, err)
	}
}
