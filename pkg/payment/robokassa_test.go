package payment

import (
	"strings"
	"testing"
)

func TestGeneratePaymentURL_SignatureIsUppercaseHex(t *testing.T) {
	c := AcquirerConfig{MerchantLogin: "shop", Password1: "pw1", Password2: "pw2"}
	url := c.GeneratePaymentURL("42", "100.00", "check", map[string]string{"Shp_job": "abc"})

	idx := strings.Index(url, "SignatureValue=")
	if idx < 0 {
		t.Fatalf("url missing SignatureValue: %s", url)
	}
	sig, _, _ := strings.Cut(url[idx+len("SignatureValue="):], "&")

	want := md5Hex("shop:100.00:42:pw1:Shp_job=abc")
	if sig != want {
		t.Fatalf("SignatureValue = %q, want %q", sig, want)
	}
	if sig != strings.ToUpper(sig) {
		t.Fatalf("SignatureValue %q is not uppercase hex", sig)
	}
}

func TestVerifyCallbackSignature_RoundTrip(t *testing.T) {
	c := AcquirerConfig{MerchantLogin: "shop", Password1: "pw1", Password2: "pw2"}
	shp := map[string]string{"Shp_job": "abc", "Shp_user": "111"}

	sig := md5Hex("100.00:42:pw2:" + shpString(shp))

	if !c.VerifyCallbackSignature("100.00", "42", sig, shp) {
		t.Fatal("expected signature to verify")
	}
	if c.VerifyCallbackSignature("100.00", "42", "deadbeef", shp) {
		t.Fatal("expected bogus signature to be rejected")
	}
}

func TestVerifyCallbackSignature_CaseInsensitive(t *testing.T) {
	c := AcquirerConfig{Password2: "pw2"}
	sig := md5Hex("50.00:7:pw2")

	if !c.VerifyCallbackSignature("50.00", "7", strings.ToLower(sig), nil) {
		t.Fatal("expected lowercase signature to still verify")
	}
}

func TestShpString_AlphabeticalOrder(t *testing.T) {
	shp := map[string]string{"Shp_zeta": "1", "Shp_alpha": "2"}
	got := shpString(shp)
	want := "Shp_alpha=2:Shp_zeta=1"
	if got != want {
		t.Fatalf("shpString = %q, want %q", got, want)
	}
}

func TestFormatCallbackResponse(t *testing.T) {
	if got := FormatCallbackResponse("99"); got != "OK99\n" {
		t.Fatalf("FormatCallbackResponse = %q, want %q", got, "OK99\n")
	}
}
