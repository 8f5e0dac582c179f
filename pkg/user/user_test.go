package user

import "testing"

func TestGenerateReferralCode_Format(t *testing.T) {
	code := generateReferralCode()

	if len(code) == 0 {
		t.Fatal("expected non-empty referral code")
	}
	for _, r := range code {
		lower := r >= 'a' && r <= 'z'
		if lower {
			t.Fatalf("referral code %q contains lowercase character %q, want uppercase-only", code, r)
		}
	}
}

func TestGenerateReferralCode_NotConstant(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		seen[generateReferralCode()] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected generateReferralCode to vary across calls")
	}
}
