// Package matcher decides whether a pool satisfies a rule. Every criterion
// is a hard gate: fail one and the pair is rejected with no score. Passed
// gates that were actually constrained (not vacuous) accumulate an advisory
// score used only for presentation.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

// CreatorVerifier answers gate 8. The production verifier is not built
// yet; AllowAllVerifier stands in until it is.
type CreatorVerifier interface {
	IsVerified(ctx context.Context, chainID int64, creator string) (bool, error)
}

// AllowAllVerifier treats every creator as verified.
// TODO: replace with a registry-backed verifier once the creator registry
// contract ships.
type AllowAllVerifier struct{}

func (AllowAllVerifier) IsVerified(context.Context, int64, string) (bool, error) {
	return true, nil
}

const scoreCap = 100

// Gate weights. Advisory only; rejection never depends on them.
const (
	weightChain      = 10
	weightKind       = 10
	weightCollection = 15
	weightMaxBuy     = 15
	weightMinSell    = 15
	weightMaxFee     = 10
	weightMinAge     = 5
	weightVerified   = 5
	weightDailyCap   = 10
	weightFirstTime  = 10
)

// weiPerCoin converts on-chain wei prices to the whole-coin units rules are
// written in.
var weiPerCoin = decimal.New(1, 18)

// Match is a passing evaluation. Score is capped at 100.
type Match struct {
	Rule    *models.Rule
	Pool    *models.Pool
	Score   int
	Reasons []string
}

type Matcher struct {
	repo     repository.Repository
	verifier CreatorVerifier
	log      *zap.Logger
	now      func() time.Time
}

func New(repo repository.Repository, verifier CreatorVerifier, log *zap.Logger) *Matcher {
	if verifier == nil {
		verifier = AllowAllVerifier{}
	}
	return &Matcher{repo: repo, verifier: verifier, log: log, now: time.Now}
}

// Evaluate runs the gates in order and returns nil when any gate fails.
// The error return is reserved for infrastructure failures (the daily-cap
// lookback and the prior-attempt lookup); a clean rejection is (nil, nil).
func (m *Matcher) Evaluate(ctx context.Context, rule *models.Rule, pool *models.Pool) (*Match, error) {
	if rule == nil || pool == nil {
		return nil, fmt.Errorf("evaluate: nil rule or pool")
	}
	if !rule.Active {
		return nil, nil
	}
	// Preconditions, not gates: the cycle already filters to active rules
	// and open-for-funding pools, so these only matter when a pool reaches
	// Evaluate another way (diagnostics endpoints, the detection callback).
	if pool.Status != models.PoolStatusFunding {
		return nil, nil
	}

	score := 0
	var reasons []string
	pass := func(weight int, reason string) {
		score += weight
		reasons = append(reasons, reason)
	}

	// 1. Chain allow-list.
	if chains := rule.AllowedChainIDs(); len(chains) > 0 {
		if !containsInt64(chains, pool.ChainID) {
			return nil, nil
		}
		pass(weightChain, fmt.Sprintf("chain %d allowed", pool.ChainID))
	}

	// 2. Pool-kind allow-list.
	if kinds := rule.AllowedPoolKinds(); len(kinds) > 0 {
		if !containsKind(kinds, pool.Kind) {
			return nil, nil
		}
		pass(weightKind, fmt.Sprintf("pool kind %s allowed", pool.Kind))
	}

	// 3. Collection allow-list, case-insensitive on addresses.
	if colls := rule.AllowedCollections(); len(colls) > 0 {
		if !containsFold(colls, pool.Collection) {
			return nil, nil
		}
		pass(weightCollection, fmt.Sprintf("collection %s allowed", pool.Collection))
	}

	buyPrice := pool.BuyPriceWei.Div(weiPerCoin)
	sellPrice := pool.SellPriceWei.Div(weiPerCoin)

	// 4. Max buy price.
	if rule.MaxBuyPrice != nil {
		if buyPrice.GreaterThan(*rule.MaxBuyPrice) {
			return nil, nil
		}
		pass(weightMaxBuy, fmt.Sprintf("buy price %s <= %s", buyPrice, rule.MaxBuyPrice))
	}

	// 5. Min sell price.
	if rule.MinSellPrice != nil {
		if sellPrice.LessThan(*rule.MinSellPrice) {
			return nil, nil
		}
		pass(weightMinSell, fmt.Sprintf("sell price %s >= %s", sellPrice, rule.MinSellPrice))
	}

	// 6. Max creator fee.
	if rule.MaxCreatorFee != nil {
		if pool.CreatorFeePct.GreaterThan(*rule.MaxCreatorFee) {
			return nil, nil
		}
		pass(weightMaxFee, fmt.Sprintf("creator fee %s%% <= %s%%", pool.CreatorFeePct, rule.MaxCreatorFee))
	}

	// 7. Min pool age.
	if rule.MinPoolAgeMinutes != nil {
		age := int(m.now().UTC().Sub(pool.CreatedAt).Minutes())
		if age < *rule.MinPoolAgeMinutes {
			return nil, nil
		}
		pass(weightMinAge, fmt.Sprintf("pool age %dm >= %dm", age, *rule.MinPoolAgeMinutes))
	}

	// 8. Verified creator.
	if rule.RequireVerifiedCreator {
		verified, err := m.verifier.IsVerified(ctx, pool.ChainID, pool.Creator)
		if err != nil {
			return nil, fmt.Errorf("verify creator %s: %w", pool.Creator, err)
		}
		if !verified {
			return nil, nil
		}
		pass(weightVerified, "creator verified")
	}

	// 9. Daily budget: sum of today's in-flight and completed amounts plus
	// this trigger must stay within the cap. The window is midnight UTC.
	if rule.MaxInvestmentPerDay != nil {
		since := midnightUTC(m.now)
		spent, err := m.repo.SumInvestmentAmountSince(ctx, rule.ID, since, []models.InvestmentStatus{
			models.InvestmentStatusProcessing,
			models.InvestmentStatusCompleted,
		})
		if err != nil {
			return nil, fmt.Errorf("sum daily spend for rule %s: %w", rule.ID, err)
		}
		if spent.Add(rule.InvestmentAmount).GreaterThan(*rule.MaxInvestmentPerDay) {
			return nil, nil
		}
		pass(weightDailyCap, fmt.Sprintf("daily spend %s + %s within cap %s",
			spent, rule.InvestmentAmount, rule.MaxInvestmentPerDay))
	}

	// 10. No prior attempt for this pair. Advisory only at this stage:
	// the investments unique index makes the final call at insert time.
	existing, err := m.repo.GetInvestmentByRulePool(ctx, rule.ID, pool.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup investment for rule %s pool %s: %w", rule.ID, pool.ID, err)
	}
	if existing != nil {
		return nil, nil
	}
	pass(weightFirstTime, "no prior investment for this pair")

	if score > scoreCap {
		score = scoreCap
	}
	return &Match{Rule: rule, Pool: pool, Score: score, Reasons: reasons}, nil
}

// FindMatches evaluates every active rule against one pool and returns the
// passing matches sorted by score descending. Per-rule evaluation errors
// are logged and skipped so one bad rule cannot hide the rest.
func (m *Matcher) FindMatches(ctx context.Context, pool *models.Pool) ([]*Match, error) {
	rules, err := m.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}

	var matches []*Match
	for i := range rules {
		match, err := m.Evaluate(ctx, &rules[i], pool)
		if err != nil {
			m.log.Warn("rule evaluation failed",
				zap.String("rule_id", rules[i].ID),
				zap.String("pool_id", pool.ID),
				zap.Error(err))
			continue
		}
		if match != nil {
			matches = append(matches, match)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func midnightUTC(now func() time.Time) time.Time {
	t := now().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func containsInt64(items []int64, want int64) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func containsKind(items []models.PoolKind, want models.PoolKind) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func containsFold(items []string, want string) bool {
	for _, item := range items {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}
