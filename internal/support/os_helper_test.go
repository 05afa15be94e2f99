package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("SUBGATE_TEST_ENV", "value")
	if got := GetEnv("SUBGATE_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("SUBGATE_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SUBGATE_TEST_INT", " 42 ")
	if got := GetEnvInt("SUBGATE_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("SUBGATE_TEST_INT_BAD", "forty-two")
	if got := GetEnvInt("SUBGATE_TEST_INT_BAD", 1); got != 1 {
		t.Fatalf("GetEnvInt returned %d, want fallback 1", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"0", true, false},
		{"TRUE", false, true},
		{"yes", true, true},
		{"yes", false, false},
	}
	for _, tt := range tests {
		t.Setenv("SUBGATE_TEST_BOOL", tt.value)
		if got := GetEnvBool("SUBGATE_TEST_BOOL", tt.fallback); got != tt.want {
			t.Errorf("GetEnvBool(%q, %t) = %t, want %t", tt.value, tt.fallback, got, tt.want)
		}
	}
}

func TestHashStringDeterministic(t *testing.T) {
	if got1, got2 := HashString("input"), HashString("input"); got1 != got2 {
		t.Fatal("HashString returned different values for the same input")
	}

	if HashString("input") == HashString("different") {
		t.Fatal("HashString returned same value for different inputs")
	}

	if got := HashString("abc"); got != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Fatalf("HashString(abc) = %s", got)
	}
}
