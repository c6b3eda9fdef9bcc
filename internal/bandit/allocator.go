// Package bandit allocates exposure across clusters with Thompson Sampling.
//
// Every cluster owns a Beta(alpha, beta) arm and noise shares one arm of its
// own. Feedback moves reward mass into the arm of the article's current
// cluster; a partition rebuild migrates that mass onto the new clusters.
package bandit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

const (
	logFieldCluster = "cluster"
	logFieldAction  = "action"

	minParam = 1.0
)

// Rewards maps each action to the mass it adds to an arm.
type Rewards struct {
	Click    float64
	Bookmark float64
	Skip     float64
}

// DefaultRewards returns click +1 alpha, bookmark +2 alpha, skip +1 beta.
func DefaultRewards() Rewards {
	return Rewards{Click: 1, Bookmark: 2, Skip: 1}
}

// Config configures an Allocator.
type Config struct {
	Rewards Rewards
	// Source feeds the Beta sampler. Nil means a randomly seeded source.
	Source Source
	// Now stamps arm updates. Nil means time.Now.
	Now func() time.Time
}

// Allocator owns the arm table.
type Allocator struct {
	mu      sync.RWMutex
	arms    map[domain.ClusterID]domain.ClusterArm
	rewards Rewards
	sampler *BetaSampler
	now     func() time.Time
	logger  *zerolog.Logger
}

// New creates an allocator holding only the noise arm.
func New(cfg Config, logger *zerolog.Logger) *Allocator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if cfg.Rewards == (Rewards{}) {
		cfg.Rewards = DefaultRewards()
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &Allocator{
		arms:    make(map[domain.ClusterID]domain.ClusterArm),
		rewards: cfg.Rewards,
		sampler: NewBetaSampler(cfg.Source),
		now:     cfg.Now,
		logger:  logger,
	}
	a.arms[domain.NoiseClusterID] = domain.NewArm(domain.NoiseClusterID, a.now())

	return a
}

// Ensure creates a Beta(1,1) arm for the assignment if none exists.
// It returns the arm and whether it was created.
func (a *Allocator) Ensure(assignment domain.Assignment) (domain.ClusterArm, bool) {
	key := assignment.Key()

	a.mu.Lock()
	defer a.mu.Unlock()

	if arm, ok := a.arms[key]; ok {
		return arm, false
	}

	arm := domain.NewArm(key, a.now())
	a.arms[key] = arm

	return arm, true
}

// SampleScore draws one score in [0,1] from the cluster's posterior.
func (a *Allocator) SampleScore(id domain.ClusterID) (float64, error) {
	a.mu.RLock()
	arm, ok := a.arms[id]
	a.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("sample cluster %d: %w", id, errors.ErrUnknownCluster)
	}

	return a.sampler.Sample(arm.Alpha, arm.Beta), nil
}

// Update applies one feedback action to the cluster's arm and returns the new arm.
func (a *Allocator) Update(id domain.ClusterID, action domain.Action) (domain.ClusterArm, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	arm, ok := a.arms[id]
	if !ok {
		return domain.ClusterArm{}, fmt.Errorf("update cluster %d: %w", id, errors.ErrUnknownCluster)
	}

	switch action {
	case domain.ActionClick:
		arm.Alpha += a.rewards.Click
	case domain.ActionBookmark:
		arm.Alpha += a.rewards.Bookmark
	case domain.ActionSkip:
		arm.Beta += a.rewards.Skip
	default:
		return domain.ClusterArm{}, fmt.Errorf("update cluster %d: %w: %q", id, errors.ErrInvalidAction, action)
	}

	arm.LastUpdated = a.now()
	a.arms[id] = arm

	a.logger.Debug().
		Int(logFieldCluster, int(id)).
		Str(logFieldAction, string(action)).
		Float64("alpha", arm.Alpha).
		Float64("beta", arm.Beta).
		Msg("arm updated")

	return arm, nil
}

// Arm returns a copy of one arm.
func (a *Allocator) Arm(id domain.ClusterID) (domain.ClusterArm, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	arm, ok := a.arms[id]

	return arm, ok
}

// Arms returns all arms sorted by cluster id, noise first.
func (a *Allocator) Arms() []domain.ClusterArm {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return sortedArms(a.arms)
}

// Restore replaces the arm table with persisted arms. The noise arm is
// recreated if missing and parameters below 1 are floored.
func (a *Allocator) Restore(arms []domain.ClusterArm) {
	table := make(map[domain.ClusterID]domain.ClusterArm, len(arms)+1)

	for _, arm := range arms {
		table[arm.ClusterID] = floor(arm)
	}

	if _, ok := table[domain.NoiseClusterID]; !ok {
		table[domain.NoiseClusterID] = domain.NewArm(domain.NoiseClusterID, a.now())
	}

	a.mu.Lock()
	a.arms = table
	a.mu.Unlock()
}

// ArmTable is a migrated arm set waiting to be committed.
type ArmTable struct {
	arms map[domain.ClusterID]domain.ClusterArm
}

// Arms returns the table's arms sorted by cluster id.
func (t ArmTable) Arms() []domain.ClusterArm {
	return sortedArms(t.arms)
}

type mass struct {
	alpha, beta float64
}

// PrepareMigration computes the arm table for a new partition without touching
// the live arms. Each old arm's excess mass is split across its transfers by
// member share, so merges sum and dissolved clusters flow into the noise arm.
// Arms of clusters absent from both the mapping and live also roll into noise.
func (a *Allocator) PrepareMigration(mapping topology.Mapping, live []domain.ClusterID) ArmTable {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	acc := make(map[domain.ClusterID]*mass, len(live)+1)
	target := func(id domain.ClusterID) *mass {
		m, ok := acc[id]
		if !ok {
			m = &mass{}
			acc[id] = m
		}

		return m
	}

	liveSet := make(map[domain.ClusterID]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
		target(id)
	}

	noise := target(domain.NoiseClusterID)

	for id, arm := range a.arms {
		da, db := arm.Excess()

		if id == domain.NoiseClusterID {
			noise.alpha += da
			noise.beta += db

			continue
		}

		transfers, mapped := mapping[id]

		var total int
		for _, tr := range transfers {
			total += tr.Members
		}

		if !mapped || total == 0 {
			if _, ok := liveSet[id]; ok {
				m := target(id)
				m.alpha += da
				m.beta += db
			} else {
				noise.alpha += da
				noise.beta += db
			}

			continue
		}

		for _, tr := range transfers {
			share := float64(tr.Members) / float64(total)
			m := target(tr.Target.Key())
			m.alpha += da * share
			m.beta += db * share
		}
	}

	table := ArmTable{arms: make(map[domain.ClusterID]domain.ClusterArm, len(acc))}

	for id, m := range acc {
		arm := domain.ClusterArm{
			ClusterID:   id,
			Alpha:       minParam + m.alpha,
			Beta:        minParam + m.beta,
			LastUpdated: now,
		}
		if prev, ok := a.arms[id]; ok && prev.Alpha == arm.Alpha && prev.Beta == arm.Beta {
			arm.LastUpdated = prev.LastUpdated
		}

		table.arms[id] = floor(arm)
	}

	return table
}

// Commit installs a prepared arm table.
func (a *Allocator) Commit(table ArmTable) {
	if table.arms == nil {
		return
	}

	a.mu.Lock()
	a.arms = table.arms
	a.mu.Unlock()

	a.logger.Info().Int("arms", len(table.arms)).Msg("arms migrated")
}

// Migrate prepares and commits a migration in one step.
func (a *Allocator) Migrate(mapping topology.Mapping, live []domain.ClusterID) []domain.ClusterArm {
	table := a.PrepareMigration(mapping, live)
	a.Commit(table)

	return table.Arms()
}

func floor(arm domain.ClusterArm) domain.ClusterArm {
	if arm.Alpha < minParam {
		arm.Alpha = minParam
	}

	if arm.Beta < minParam {
		arm.Beta = minParam
	}

	return arm
}

func sortedArms(arms map[domain.ClusterID]domain.ClusterArm) []domain.ClusterArm {
	out := make([]domain.ClusterArm, 0, len(arms))
	for _, arm := range arms {
		out = append(out, arm)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })

	return out
}
