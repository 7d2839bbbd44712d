package validation

import (
	"testing"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"a1b2c3d4-e5f6-7890-abcd-ef1234567890", true},
		{"user_42", true},
		{"U", true},

		// Invalid cases
		{"", false},
		{"user id with spaces", false},
		{"user;drop table wallets", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 65 chars
	}

	for _, tc := range tests {
		result := IsValidUserID(tc.id)
		if result != tc.valid {
			t.Errorf("IsValidUserID(%q) = %v, want %v", tc.id, result, tc.valid)
		}
	}
}

func TestIsValidReference(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
	}{
		{"cs_test_a1B2c3D4e5F6", true},
		{"pi_3OaBcDeFgHiJkLmN", true},

		// Invalid
		{"", false},
		{"ref with spaces", false},
		{"ref\x00null", false},
	}

	for _, tc := range tests {
		result := IsValidReference(tc.ref)
		if result != tc.valid {
			t.Errorf("IsValidReference(%q) = %v, want %v", tc.ref, result, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	// Test valid input
	errors := Validate(
		Required("user_id", "user_42"),
		ValidUserID("user_id", "user_42"),
		PositiveAmount("amount", 50),
	)
	if len(errors) != 0 {
		t.Errorf("Expected no errors, got %v", errors)
	}

	// Test invalid input
	errors = Validate(
		Required("user_id", ""),
		PositiveAmount("amount", 0),
	)
	if len(errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errors))
	}
}

func TestPositiveAmount(t *testing.T) {
	tests := []struct {
		coins int64
		valid bool
	}{
		{1, true},
		{100, true},

		// Invalid
		{0, false},
		{-50, false},
	}

	for _, tc := range tests {
		err := PositiveAmount("amount", tc.coins)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("PositiveAmount(%d) valid=%v, want %v", tc.coins, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	// Under limit
	err := MaxLength("field", "hello", 10)()
	if err != nil {
		t.Error("Expected no error for string under limit")
	}

	// At limit
	err = MaxLength("field", "hello", 5)()
	if err != nil {
		t.Error("Expected no error for string at limit")
	}

	// Over limit
	err = MaxLength("field", "hello world", 5)()
	if err == nil {
		t.Error("Expected error for string over limit")
	}
}
