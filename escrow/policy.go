package escrow

import "github.com/hypehub/task-escrow/catalog"

// RewardPolicy validates a proposed reward against the catalog bounds and
// a balance. It has no state beyond the read-only catalog.
//
// The balance it sees outside a transaction is advisory only; the Task
// Registry runs Validate again inside the creation transaction.
type RewardPolicy struct {
	catalog *catalog.Catalog
}

// NewRewardPolicy wraps a catalog.
func NewRewardPolicy(c *catalog.Catalog) RewardPolicy {
	return RewardPolicy{catalog: c}
}

// Validate checks, in order: the action exists, the reward meets the
// minimum, the reward fits the balance.
func (p RewardPolicy) Validate(platform, action string, reward, balance int64) error {
	a, ok := p.catalog.Lookup(platform, action)
	if !ok {
		return &UnknownActionError{Platform: platform, Action: action}
	}
	if reward < a.MinReward {
		return &BelowMinimumError{Platform: platform, Action: action, Minimum: a.MinReward, Proposed: reward}
	}
	if reward > balance {
		return &InsufficientBalanceError{Available: balance, Requested: reward, Shortfall: reward - balance}
	}
	return nil
}

// RewardRange is the slider a creator may pick a reward from.
type RewardRange struct {
	Min        int64 `json:"min"`
	Default    int64 `json:"default"`
	Max        int64 `json:"max"`
	Affordable bool  `json:"affordable"`
}

// Range returns the allowed reward range for a balance. Max is the balance;
// when the balance is under the minimum the range is not affordable.
func (p RewardPolicy) Range(platform, action string, balance int64) (RewardRange, error) {
	a, ok := p.catalog.Lookup(platform, action)
	if !ok {
		return RewardRange{}, &UnknownActionError{Platform: platform, Action: action}
	}
	r := RewardRange{
		Min:        a.MinReward,
		Default:    a.DefaultReward,
		Max:        balance,
		Affordable: balance >= a.MinReward,
	}
	if r.Default > r.Max {
		r.Default = r.Max
	}
	if r.Default < r.Min {
		r.Default = r.Min
	}
	return r, nil
}
