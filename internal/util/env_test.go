package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"bogus", true, true},
		{"bogus", false, false},
		{"  true  ", false, true},
	}
	for _, c := range cases {
		t.Setenv("TALIA_TEST_BOOL", c.value)
		if got := ParseBoolEnv("TALIA_TEST_BOOL", c.def); got != c.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value    string
		def      int
		expected int
	}{
		{"", 7, 7},
		{"42", 7, 42},
		{" 42 ", 7, 42},
		{"-3", 7, -3},
		{"bogus", 7, 7},
		{"4.5", 7, 7},
	}
	for _, c := range cases {
		t.Setenv("TALIA_TEST_INT", c.value)
		if got := ParseIntEnv("TALIA_TEST_INT", c.def); got != c.expected {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", c.value, c.def, got, c.expected)
		}
	}
}
