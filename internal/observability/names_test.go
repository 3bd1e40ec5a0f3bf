package observability

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		allowed  map[string]bool
		expected string
	}{
		{"known outcome forwarded", "forwarded", AllowedOutcomes, "forwarded"},
		{"known outcome transaction_missing", "transaction_missing", AllowedOutcomes, "transaction_missing"},
		{"unknown outcome", "exploded", AllowedOutcomes, "other"},
		{"empty outcome", "", AllowedOutcomes, "other"},
		{"known format", "enveloped", AllowedFormats, "enveloped"},
		{"unknown format", "xml", AllowedFormats, "other"},
		{"known forward result", "non_2xx", AllowedForwardResults, "non_2xx"},
		{"known job status", "failed_final", AllowedForwardJobStatuses, "failed_final"},
		{"unknown reject reason", "manual", AllowedRejectReasons, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input, tt.allowed)
			if got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
