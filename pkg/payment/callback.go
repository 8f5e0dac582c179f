package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrSignatureInvalid is returned when a callback's signature does not
// verify against the configured acquirer password.
var ErrSignatureInvalid = errors.New("callback signature invalid")

// CallbackFields is the parsed form-encoded payload from the external
// acquirer's callback.
type CallbackFields struct {
	OutSum         string
	InvID          string
	SignatureValue string
	Shp            map[string]string
}

// HandleExternalCallback verifies the acquirer's signature and, if valid,
// settles the referenced payment. An invalid signature never touches any
// Payment row — it is rejected outright with a high-severity admin alert.
func (s *Service) HandleExternalCallback(ctx context.Context, acquirer AcquirerConfig, f CallbackFields) (string, error) {
	if !acquirer.VerifyCallbackSignature(f.OutSum, f.InvID, f.SignatureValue, f.Shp) {
		s.notifyCritical(ctx, fmt.Sprintf("external acquirer callback signature invalid for InvId=%s", f.InvID))
		return "", ErrSignatureInvalid
	}

	paymentID, err := uuid.Parse(f.InvID)
	if err != nil {
		return "", fmt.Errorf("parsing InvId as payment id: %w", err)
	}

	amountCents, err := parseOutSumCents(f.OutSum)
	if err != nil {
		return "", fmt.Errorf("parsing OutSum: %w", err)
	}

	if _, err := s.Complete(ctx, paymentID, f.InvID, amountCents); err != nil {
		return "", err
	}

	return FormatCallbackResponse(f.InvID), nil
}

// parseOutSumCents parses a decimal "123.45" amount string into integer
// minor units, matching how Payment.AmountCents is stored.
func parseOutSumCents(outSum string) (int64, error) {
	whole, frac, err := splitDecimal(outSum)
	if err != nil {
		return 0, err
	}
	return whole*100 + frac, nil
}

func splitDecimal(s string) (whole, frac int64, err error) {
	dot := -1
	for i, c := range s {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot == -1 {
		whole, err = strconv.ParseInt(s, 10, 64)
		return whole, 0, err
	}
	whole, err = strconv.ParseInt(s[:dot], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	fracStr := s[dot+1:]
	for len(fracStr) < 2 {
		fracStr += "0"
	}
	fracStr = fracStr[:2]
	frac, err = strconv.ParseInt(fracStr, 10, 64)
	return whole, frac, err
}
