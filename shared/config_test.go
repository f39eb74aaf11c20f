package shared

import (
	"testing"
)

func TestEnvHelpers(t *testing.T) {
	t.Run("StringSetAndUnset", func(t *testing.T) {
		t.Setenv("TEST_STR", "value")
		if got := GetEnvOrDefault("TEST_STR", "fallback"); got != "value" {
			t.Errorf("Expected %q, got %q", "value", got)
		}
		if got := GetEnvOrDefault("TEST_STR_ABSENT", "fallback"); got != "fallback" {
			t.Errorf("Expected fallback, got %q", got)
		}
	})

	t.Run("IntParsesOrFallsBack", func(t *testing.T) {
		t.Setenv("TEST_INT", "7")
		if got := GetEnvIntOrDefault("TEST_INT", 3); got != 7 {
			t.Errorf("Expected 7, got %d", got)
		}
		t.Setenv("TEST_INT", "not a number")
		if got := GetEnvIntOrDefault("TEST_INT", 3); got != 3 {
			t.Errorf("Expected fallback 3, got %d", got)
		}
	})

	t.Run("Uint32RejectsNegative", func(t *testing.T) {
		t.Setenv("TEST_PORT", "-1")
		if got := GetEnvUint32OrDefault("TEST_PORT", 8443); got != 8443 {
			t.Errorf("Expected fallback 8443, got %d", got)
		}
		t.Setenv("TEST_PORT", "9000")
		if got := GetEnvUint32OrDefault("TEST_PORT", 8443); got != 9000 {
			t.Errorf("Expected 9000, got %d", got)
		}
	})

	t.Run("BoolParsesOrFallsBack", func(t *testing.T) {
		t.Setenv("TEST_BOOL", "true")
		if !GetEnvBoolOrDefault("TEST_BOOL", false) {
			t.Errorf("Expected true")
		}
		t.Setenv("TEST_BOOL", "definitely")
		if GetEnvBoolOrDefault("TEST_BOOL", false) {
			t.Errorf("Expected fallback false for unparseable value")
		}
		if !GetEnvBoolOrDefault("TEST_BOOL_ABSENT", true) {
			t.Errorf("Expected fallback true for absent variable")
		}
	})
}
