package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// AcquirerConfig holds the external acquirer's merchant credentials.
type AcquirerConfig struct {
	MerchantLogin string
	Password1     string
	Password2     string
	TestMode      bool
}

func shpString(shp map[string]string) string {
	keys := make([]string, 0, len(shp))
	for k := range shp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, shp[k]))
	}
	return strings.Join(parts, ":")
}

// GeneratePaymentURL builds the redirect URL for the external acquirer's
// hosted checkout page, signed with Password #1.
func (c AcquirerConfig) GeneratePaymentURL(invID string, outSum string, description string, shp map[string]string) string {
	shpStr := shpString(shp)
	sigInput := fmt.Sprintf("%s:%s:%s:%s:%s", c.MerchantLogin, outSum, invID, c.Password1, shpStr)
	sig := md5Hex(sigInput)

	params := url.Values{}
	params.Set("MerchantLogin", c.MerchantLogin)
	params.Set("OutSum", outSum)
	params.Set("InvId", invID)
	params.Set("Description", description)
	params.Set("SignatureValue", sig)
	params.Set("Culture", "ru")
	params.Set("Encoding", "utf-8")
	for k, v := range shp {
		params.Set(k, v)
	}
	if c.TestMode {
		params.Set("IsTest", "1")
	}

	return "https://auth.robokassa.ru/Merchant/Index.aspx?" + params.Encode()
}

// VerifyCallbackSignature checks a callback's SignatureValue against
// Password #2, over OutSum:InvId:Password2:Shp_k1=v1:Shp_k2=v2... with Shp
// fields in lexicographic order.
func (c AcquirerConfig) VerifyCallbackSignature(outSum, invID, signature string, shp map[string]string) bool {
	sigInput := fmt.Sprintf("%s:%s:%s", outSum, invID, c.Password2)
	if shpStr := shpString(shp); shpStr != "" {
		sigInput += ":" + shpStr
	}
	expected := md5Hex(sigInput)
	return strings.EqualFold(expected, signature)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FormatCallbackResponse is the literal success reply the acquirer expects.
func FormatCallbackResponse(invID string) string {
	return "OK" + invID + "\n"
}
