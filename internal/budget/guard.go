// Package budget tracks cumulative spend of a run against a fixed ceiling.
//
// The guard is consulted before each new invocation. Because the price of a
// call is only known after it completes, a run can overshoot the ceiling by
// at most the cost of the one call that was in flight when the ceiling was
// crossed.
package budget

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultWarningThreshold is the fraction of the ceiling at which WarningDue fires.
const DefaultWarningThreshold = 0.8

var (
	// ErrNegativeCharge is returned when a charge would decrease cumulative spend.
	ErrNegativeCharge = errors.New("charge amount must not be negative")
	// ErrInvalidCeiling is returned for a non-positive or non-finite ceiling.
	ErrInvalidCeiling = errors.New("budget ceiling must be a positive amount")
)

// Guard holds the budget state of a single run.
type Guard struct {
	mu        sync.Mutex
	ceiling   float64
	spent     float64
	threshold float64
	warned    bool
}

// NewGuard creates a Guard with the given ceiling in USD.
func NewGuard(ceiling float64) (*Guard, error) {
	if ceiling <= 0 || math.IsNaN(ceiling) || math.IsInf(ceiling, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCeiling, ceiling)
	}
	return &Guard{ceiling: ceiling, threshold: DefaultWarningThreshold}, nil
}

// Charge adds a known cost to cumulative spend.
func (g *Guard) Charge(amount float64) error {
	if amount < 0 || math.IsNaN(amount) {
		return fmt.Errorf("%w: %v", ErrNegativeCharge, amount)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent += amount
	return nil
}

// Remaining returns how much of the ceiling is left, never less than zero.
func (g *Guard) Remaining() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return math.Max(0, g.ceiling-g.spent)
}

// Exhausted reports whether cumulative spend has reached the ceiling.
func (g *Guard) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent >= g.ceiling
}

// Spent returns cumulative spend.
func (g *Guard) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// Ceiling returns the configured ceiling.
func (g *Guard) Ceiling() float64 {
	return g.ceiling
}

// WarningDue returns true exactly once, the first time it is called after
// spend crossed the warning threshold.
func (g *Guard) WarningDue() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.warned || g.spent < g.ceiling*g.threshold {
		return false
	}
	g.warned = true
	return true
}
