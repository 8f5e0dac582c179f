// Package user owns end-user accounts: credit balance, referral code, and
// the narrow entry point external referral accounting uses to credit a
// bonus (referral accounting itself stays an external collaborator).
package user

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"strings"

	"github.com/nullstream/unmutual/internal/config"
	"github.com/nullstream/unmutual/internal/db"
)

// Service manages user accounts and balances.
type Service struct {
	queries *db.Queries
	cfg     *config.Config
}

// New constructs a Service.
func New(queries *db.Queries, cfg *config.Config) *Service {
	return &Service{queries: queries, cfg: cfg}
}

// Ensure upserts a user by id, seeding the initial balance (admins get
// cfg.InitialBalanceAdmin, everyone else cfg.InitialBalanceUser) the first
// time the id is seen. Already-existing users are returned unchanged.
func (s *Service) Ensure(ctx context.Context, userID int64) (db.User, error) {
	initial := int32(s.cfg.InitialBalanceUser)
	if s.cfg.IsAdmin(userID) {
		initial = int32(s.cfg.InitialBalanceAdmin)
	}
	return s.queries.EnsureUser(ctx, userID, initial, generateReferralCode())
}

// Balance returns a user's current credit balance and referral code.
func (s *Service) Balance(ctx context.Context, userID int64) (db.User, error) {
	return s.queries.GetUser(ctx, userID)
}

// CreditReferralBonus credits amount to a user's balance on behalf of the
// external referral-accounting collaborator. It performs no referral-program
// bookkeeping of its own — only the balance mutation that program relies on.
func (s *Service) CreditReferralBonus(ctx context.Context, userID int64, amount int32) (db.User, error) {
	return s.queries.IncrementBalance(ctx, userID, amount)
}

// generateReferralCode produces a short, URL-safe, collision-resistant code.
// Base32 avoids visually ambiguous characters better than hex while staying
// shorter than a full UUID.
func generateReferralCode() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return strings.ToUpper(code)
}
