/*
Package catalog holds the static action catalog consumed by the escrow core.

PURPOSE:
  Maps platform -> allowed actions -> {minReward, defaultReward}. The table is
  loaded once at process start and is read-only afterwards, so a *Catalog can
  be shared between goroutines without locking.

  The same document also carries the point packages sold through the wallet
  flow and the official (system-funded) tasks seeded at startup.

LOOKUPS:
  Lookup(platform, action)   Reward bounds for one action
  Platforms()                All platforms in display order
  Package(id) / Packages()   Point packages
  OfficialTasks()            Seeds for system-funded tasks

SEE ALSO:
  - defaults.go: Built-in catalog
  - json.go: JSON loading
  - escrow/policy.go: Reward Policy built on Lookup
*/
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidCatalog is returned when a catalog document fails validation.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Action is one rewardable action on a platform.
type Action struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	MinReward     int64  `json:"min_reward"`
	DefaultReward int64  `json:"default_reward"`
}

// Platform groups the actions available on one social platform.
type Platform struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Actions []Action `json:"actions"`
}

// OfficialTask describes a system-funded task seeded at startup.
type OfficialTask struct {
	Platform    string `json:"platform"`
	Action      string `json:"action"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Reward      int64  `json:"reward"`
}

type actionKey struct {
	platform string
	action   string
}

// Catalog is an immutable lookup table.
type Catalog struct {
	platforms []Platform
	actions   map[actionKey]Action
	packages  []Package
	byPackage map[string]Package
	official  []OfficialTask
}

// New validates the given tables and builds a Catalog.
func New(platforms []Platform, packages []Package, official []OfficialTask) (*Catalog, error) {
	c := &Catalog{
		actions:   make(map[actionKey]Action),
		byPackage: make(map[string]Package),
	}

	for _, p := range platforms {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: platform without id", ErrInvalidCatalog)
		}
		if len(p.Actions) == 0 {
			return nil, fmt.Errorf("%w: platform %q has no actions", ErrInvalidCatalog, p.ID)
		}
		for _, a := range p.Actions {
			if a.ID == "" {
				return nil, fmt.Errorf("%w: platform %q has an action without id", ErrInvalidCatalog, p.ID)
			}
			if a.MinReward <= 0 {
				return nil, fmt.Errorf("%w: %s/%s min_reward must be positive", ErrInvalidCatalog, p.ID, a.ID)
			}
			if a.DefaultReward < a.MinReward {
				return nil, fmt.Errorf("%w: %s/%s default_reward below min_reward", ErrInvalidCatalog, p.ID, a.ID)
			}
			k := actionKey{platform: p.ID, action: a.ID}
			if _, dup := c.actions[k]; dup {
				return nil, fmt.Errorf("%w: duplicate action %s/%s", ErrInvalidCatalog, p.ID, a.ID)
			}
			c.actions[k] = a
		}
		p.Actions = append([]Action(nil), p.Actions...)
		c.platforms = append(c.platforms, p)
	}

	for _, pkg := range packages {
		if err := pkg.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byPackage[pkg.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate package %q", ErrInvalidCatalog, pkg.ID)
		}
		c.byPackage[pkg.ID] = pkg
		c.packages = append(c.packages, pkg)
	}
	sort.SliceStable(c.packages, func(i, j int) bool {
		return c.packages[i].Points < c.packages[j].Points
	})

	for _, ot := range official {
		a, ok := c.Lookup(ot.Platform, ot.Action)
		if !ok {
			return nil, fmt.Errorf("%w: official task %q references unknown action %s/%s",
				ErrInvalidCatalog, ot.Title, ot.Platform, ot.Action)
		}
		if ot.URL == "" || ot.Title == "" {
			return nil, fmt.Errorf("%w: official task needs a title and url", ErrInvalidCatalog)
		}
		if ot.Reward == 0 {
			ot.Reward = a.DefaultReward
		}
		if ot.Reward < a.MinReward {
			return nil, fmt.Errorf("%w: official task %q reward below minimum %d",
				ErrInvalidCatalog, ot.Title, a.MinReward)
		}
		c.official = append(c.official, ot)
	}

	return c, nil
}

// Lookup returns the reward bounds for (platform, action).
func (c *Catalog) Lookup(platform, action string) (Action, bool) {
	a, ok := c.actions[actionKey{platform: platform, action: action}]
	return a, ok
}

// Platforms returns the platforms in display order.
func (c *Catalog) Platforms() []Platform {
	out := make([]Platform, len(c.platforms))
	for i, p := range c.platforms {
		p.Actions = append([]Action(nil), p.Actions...)
		out[i] = p
	}
	return out
}

// Packages returns the point packages ordered by size.
func (c *Catalog) Packages() []Package {
	return append([]Package(nil), c.packages...)
}

// Package looks up a point package by id.
func (c *Catalog) Package(id string) (Package, bool) {
	p, ok := c.byPackage[id]
	return p, ok
}

// OfficialTasks returns the system-funded task seeds.
func (c *Catalog) OfficialTasks() []OfficialTask {
	return append([]OfficialTask(nil), c.official...)
}
