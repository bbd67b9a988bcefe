package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poolpilot/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// eth converts a whole-coin amount to its wei representation.
func eth(s string) decimal.Decimal {
	return dec(s).Mul(decimal.New(1, 18))
}

func testPool(mod func(*models.Pool)) *models.Pool {
	pool := &models.Pool{
		ID:           "pool-1",
		ChainID:      360,
		Address:      "0xaaaa000000000000000000000000000000000001",
		Collection:   "0xcccc000000000000000000000000000000000001",
		Kind:         models.PoolKindCollection,
		Creator:      "0xdddd000000000000000000000000000000000001",
		BuyPriceWei:  eth("1.2"),
		SellPriceWei: eth("2.0"),
		Status:       models.PoolStatusFunding,
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	if mod != nil {
		mod(pool)
	}
	return pool
}

func testRule(mod func(*models.Rule)) *models.Rule {
	rule := &models.Rule{
		ID:               "rule-1",
		UserID:           "user-1",
		WalletID:         "wallet-1",
		Name:             "test rule",
		Active:           true,
		InvestmentAmount: dec("0.5"),
	}
	if mod != nil {
		mod(rule)
	}
	return rule
}

func newTestMatcher(repo *stubRepo) *Matcher {
	return New(repo, AllowAllVerifier{}, zap.NewNop())
}

func TestEvaluateUnrestrictedRuleMatches(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	match, err := m.Evaluate(context.Background(), testRule(nil), testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match")
	}
	// Only the first-time gate is non-vacuous for an unrestricted rule.
	if match.Score != weightFirstTime {
		t.Fatalf("score = %d, want %d", match.Score, weightFirstTime)
	}
	if len(match.Reasons) != 1 {
		t.Fatalf("reasons = %v, want one entry", match.Reasons)
	}
}

func TestEvaluateMaxBuyPriceGate(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	rule := testRule(func(r *models.Rule) { r.MaxBuyPrice = decPtr("1.0") })

	match, err := m.Evaluate(context.Background(), rule, testPool(func(p *models.Pool) {
		p.BuyPriceWei = eth("1.5")
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match for buy price 1.5 > cap 1.0")
	}

	match, err = m.Evaluate(context.Background(), rule, testPool(func(p *models.Pool) {
		p.BuyPriceWei = eth("0.9")
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatalf("expected match for buy price 0.9 <= cap 1.0")
	}
}

func TestEvaluateChainAllowList(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	rule := testRule(func(r *models.Rule) {
		r.ChainIDs = models.ChainIDListJSON([]int64{1, 137})
	})
	match, err := m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match: chain 360 not in allow-list")
	}

	rule.ChainIDs = models.ChainIDListJSON([]int64{360})
	match, err = m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatalf("expected match for allowed chain")
	}
}

func TestEvaluateCollectionAllowListCaseInsensitive(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	rule := testRule(func(r *models.Rule) {
		r.Collections = models.StringListJSON([]string{"0xCCCC000000000000000000000000000000000001"})
	})
	match, err := m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match == nil {
		t.Fatalf("expected case-insensitive collection match")
	}
}

func TestEvaluateMinSellPriceGate(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	rule := testRule(func(r *models.Rule) { r.MinSellPrice = decPtr("3.0") })
	match, err := m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match: sell price 2.0 < floor 3.0")
	}
}

func TestEvaluateCreatorFeeGate(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	rule := testRule(func(r *models.Rule) { r.MaxCreatorFee = decPtr("2.5") })
	match, err := m.Evaluate(context.Background(), rule, testPool(func(p *models.Pool) {
		p.CreatorFeePct = dec("5")
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match: fee 5%% > cap 2.5%%")
	}
}

func TestEvaluateMinPoolAgeGate(t *testing.T) {
	m := newTestMatcher(&stubRepo{})
	minAge := 30
	rule := testRule(func(r *models.Rule) { r.MinPoolAgeMinutes = &minAge })

	match, err := m.Evaluate(context.Background(), rule, testPool(func(p *models.Pool) {
		p.CreatedAt = time.Now().UTC().Add(-5 * time.Minute)
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match for a 5 minute old pool")
	}
}

func TestEvaluateDailyCap(t *testing.T) {
	repo := &stubRepo{}
	repo.investments = append(repo.investments, models.Investment{
		ID:        "inv-1",
		RuleID:    "rule-1",
		PoolID:    "pool-other",
		Amount:    dec("0.6"),
		Status:    models.InvestmentStatusCompleted,
		CreatedAt: time.Now().UTC(),
	})
	m := newTestMatcher(repo)
	rule := testRule(func(r *models.Rule) {
		r.InvestmentAmount = dec("0.6")
		r.MaxInvestmentPerDay = decPtr("1.0")
	})

	match, err := m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match: 0.6 spent + 0.6 next > cap 1.0")
	}
}

func TestEvaluateExistingInvestmentGate(t *testing.T) {
	repo := &stubRepo{}
	repo.investments = append(repo.investments, models.Investment{
		ID:     "inv-1",
		RuleID: "rule-1",
		PoolID: "pool-1",
		Status: models.InvestmentStatusFailed,
	})
	m := newTestMatcher(repo)

	match, err := m.Evaluate(context.Background(), testRule(nil), testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match when an investment already exists for the pair")
	}
}

func TestEvaluateSkipsInactiveRuleAndNonFundingPool(t *testing.T) {
	m := newTestMatcher(&stubRepo{})

	match, err := m.Evaluate(context.Background(), testRule(func(r *models.Rule) {
		r.Active = false
	}), testPool(nil))
	if err != nil || match != nil {
		t.Fatalf("inactive rule: match=%v err=%v, want nil/nil", match, err)
	}

	match, err = m.Evaluate(context.Background(), testRule(nil), testPool(func(p *models.Pool) {
		p.Status = models.PoolStatusSold
	}))
	if err != nil || match != nil {
		t.Fatalf("sold pool: match=%v err=%v, want nil/nil", match, err)
	}
}

type denyAllVerifier struct{}

func (denyAllVerifier) IsVerified(context.Context, int64, string) (bool, error) {
	return false, nil
}

func TestEvaluateVerifiedCreatorGate(t *testing.T) {
	m := New(&stubRepo{}, denyAllVerifier{}, zap.NewNop())
	rule := testRule(func(r *models.Rule) { r.RequireVerifiedCreator = true })
	match, err := m.Evaluate(context.Background(), rule, testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match for unverified creator")
	}
}

func TestFindMatchesSortedByScore(t *testing.T) {
	repo := &stubRepo{}
	// Restricted rule: passes more non-vacuous gates, scores higher.
	restricted := testRule(func(r *models.Rule) {
		r.ID = "rule-restricted"
		r.ChainIDs = models.ChainIDListJSON([]int64{360})
		r.MaxBuyPrice = decPtr("2.0")
	})
	open := testRule(func(r *models.Rule) { r.ID = "rule-open" })
	repo.rules = append(repo.rules, *restricted, *open)

	m := newTestMatcher(repo)
	matches, err := m.FindMatches(context.Background(), testPool(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Rule.ID != "rule-restricted" {
		t.Fatalf("expected restricted rule first, got %s", matches[0].Rule.ID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Fatalf("expected descending scores, got %d then %d", matches[0].Score, matches[1].Score)
	}
}
