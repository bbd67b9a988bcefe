package matcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// It implements the full interface but matcher tests only exercise the
// investment lookups.
type stubRepo struct {
	rules       []models.Rule
	pools       map[string]models.Pool
	investments []models.Investment
	wallets     map[string]models.Wallet

	sumErr error
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (s *stubRepo) InsertPoolIfAbsent(ctx context.Context, item *models.Pool) (bool, error) {
	if s.pools == nil {
		s.pools = make(map[string]models.Pool)
	}
	for _, p := range s.pools {
		if p.ChainID == item.ChainID && p.Address == item.Address {
			return false, nil
		}
	}
	s.pools[item.ID] = *item
	return true, nil
}

func (s *stubRepo) GetPoolByID(ctx context.Context, id string) (*models.Pool, error) {
	if p, ok := s.pools[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (s *stubRepo) GetPoolByAddress(ctx context.Context, chainID int64, address string) (*models.Pool, error) {
	for _, p := range s.pools {
		if p.ChainID == chainID && p.Address == address {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListPools(ctx context.Context, params repository.ListPoolsParams) ([]models.Pool, error) {
	out := make([]models.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) ListOpenPoolsSince(ctx context.Context, since time.Time, limit int) ([]models.Pool, error) {
	var out []models.Pool
	for _, p := range s.pools {
		if p.Status == models.PoolStatusFunding && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdatePoolOnchainState(ctx context.Context, item *models.Pool) error {
	s.pools[item.ID] = *item
	return nil
}

func (s *stubRepo) IncrementPoolContributionTx(ctx context.Context, tx *gorm.DB, poolID string, amount decimal.Decimal) error {
	p := s.pools[poolID]
	p.TotalContribution = p.TotalContribution.Add(amount)
	s.pools[poolID] = p
	return nil
}

func (s *stubRepo) InsertRule(ctx context.Context, item *models.Rule) error {
	s.rules = append(s.rules, *item)
	return nil
}

func (s *stubRepo) GetRuleByID(ctx context.Context, id string) (*models.Rule, error) {
	for i := range s.rules {
		if s.rules[i].ID == id {
			out := s.rules[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListRules(ctx context.Context, params repository.ListRulesParams) ([]models.Rule, error) {
	return s.rules, nil
}

func (s *stubRepo) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	var out []models.Rule
	for _, r := range s.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRepo) UpdateRule(ctx context.Context, item *models.Rule) error { return nil }
func (s *stubRepo) DeleteRule(ctx context.Context, id string) error         { return nil }

func (s *stubRepo) ApplyRuleTriggerTx(ctx context.Context, tx *gorm.DB, ruleID string, amount decimal.Decimal, at time.Time) error {
	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			s.rules[i].TotalInvested = s.rules[i].TotalInvested.Add(amount)
			s.rules[i].TotalInvestments++
			s.rules[i].LastTriggered = &at
		}
	}
	return nil
}

func (s *stubRepo) InsertInvestment(ctx context.Context, item *models.Investment) error {
	for _, inv := range s.investments {
		if inv.RuleID == item.RuleID && inv.PoolID == item.PoolID {
			return repository.ErrDuplicateInvestment
		}
	}
	s.investments = append(s.investments, *item)
	return nil
}

func (s *stubRepo) GetInvestmentByID(ctx context.Context, id string) (*models.Investment, error) {
	for i := range s.investments {
		if s.investments[i].ID == id {
			out := s.investments[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) GetInvestmentByRulePool(ctx context.Context, ruleID, poolID string) (*models.Investment, error) {
	for i := range s.investments {
		if s.investments[i].RuleID == ruleID && s.investments[i].PoolID == poolID {
			out := s.investments[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListInvestments(ctx context.Context, params repository.ListInvestmentsParams) ([]models.Investment, error) {
	return s.investments, nil
}

func (s *stubRepo) UpdateInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error {
	for i := range s.investments {
		if s.investments[i].ID == id {
			s.investments[i].Status = status
		}
	}
	return nil
}

func (s *stubRepo) MarkInvestmentCompletedTx(ctx context.Context, tx *gorm.DB, id string, txHash string, at time.Time) error {
	for i := range s.investments {
		if s.investments[i].ID == id {
			s.investments[i].Status = models.InvestmentStatusCompleted
			s.investments[i].TxHash = &txHash
			s.investments[i].ExecutedAt = &at
		}
	}
	return nil
}

func (s *stubRepo) MarkInvestmentFailed(ctx context.Context, id string) error {
	for i := range s.investments {
		if s.investments[i].ID == id {
			s.investments[i].Status = models.InvestmentStatusFailed
		}
	}
	return nil
}

func (s *stubRepo) SumInvestmentAmountSince(ctx context.Context, ruleID string, since time.Time, statuses []models.InvestmentStatus) (decimal.Decimal, error) {
	if s.sumErr != nil {
		return decimal.Zero, s.sumErr
	}
	sum := decimal.Zero
	for _, inv := range s.investments {
		if inv.RuleID != ruleID || inv.CreatedAt.Before(since) {
			continue
		}
		for _, status := range statuses {
			if inv.Status == status {
				sum = sum.Add(inv.Amount)
				break
			}
		}
	}
	return sum, nil
}

func (s *stubRepo) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Investment, error) {
	var out []models.Investment
	for _, inv := range s.investments {
		if inv.Status == models.InvestmentStatusProcessing && inv.UpdatedAt.Before(before) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *stubRepo) GetInvestmentStats(ctx context.Context) (*repository.InvestmentStats, error) {
	return &repository.InvestmentStats{}, nil
}

func (s *stubRepo) GetWalletByID(ctx context.Context, id string) (*models.Wallet, error) {
	if w, ok := s.wallets[id]; ok {
		return &w, nil
	}
	return nil, nil
}

func (s *stubRepo) GetScanState(ctx context.Context, chainID int64) (*models.ScanState, error) {
	return nil, nil
}

func (s *stubRepo) SaveScanState(ctx context.Context, state *models.ScanState) error { return nil }
