package utils

import (
	"testing"
)

func TestParseDecimal_SeparatorConventions(t *testing.T) {
	cases := map[string]string{
		"1234.56":    "1234.56",
		"1234,56":    "1234.56",
		" 1.234,56 ": "1234.56",
		"1,234.56":   "1234.56",
		"1.234.567":  "1234567",
		"1,234,567":  "1234567",
		"12,50":      "12.5",
		"12":         "12",
	}
	for input, want := range cases {
		d, err := ParseDecimal(input)
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		if d.String() != want {
			t.Fatalf("%q: got %s, want %s", input, d, want)
		}
	}

	if _, err := ParseDecimal(""); err == nil {
		t.Fatal("empty string must fail")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Fatal("non-numeric must fail")
	}
	if _, err := ParseDecimal("1.234,56,78"); err == nil {
		t.Fatal("garbled separators must fail")
	}
}

func TestParseFlexibleDate_AcceptedLayouts(t *testing.T) {
	for _, value := range []string{
		"2024-03-15",
		"2024-03-15T10:30:00",
		"15.03.2024",
		"15/03/2024",
	} {
		tm, err := ParseFlexibleDate(value)
		if err != nil {
			t.Fatalf("%q: %v", value, err)
		}
		if tm.Year() != 2024 || int(tm.Month()) != 3 || tm.Day() != 15 {
			t.Fatalf("%q parsed to %s", value, tm)
		}
	}

	if _, err := ParseFlexibleDate("15th of March"); err == nil {
		t.Fatal("free-text date must fail")
	}
	if _, err := ParseFlexibleDate(""); err == nil {
		t.Fatal("empty date must fail")
	}
}
