package payment

import "testing"

func TestParseOutSumCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100.00", 10000, false},
		{"100", 10000, false},
		{"99.5", 9950, false},
		{"0.01", 1, false},
		{"not-a-number", 0, true},
	}

	for _, tt := range tests {
		got, err := parseOutSumCents(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseOutSumCents(%q) expected error, got nil", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOutSumCents(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOutSumCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
