package database

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// DefaultGrowthWarnThreshold is the ceiling above which growth is reported loudly.
const DefaultGrowthWarnThreshold = 32

// Growth describes one ceiling increase.
type Growth struct {
	From, To int32
	// Excessive is set on the growth that first takes the ceiling past the
	// warn threshold.
	Excessive bool
}

// GrowthPolicy tracks the pool's floor and ceiling. Exhaustion raises both to
// the observed demand; neither ever decreases.
type GrowthPolicy struct {
	mu      sync.Mutex
	floor   int32
	ceiling int32
	hardCap int32
	warnAt  int32
	warned  bool
}

// NewGrowthPolicy starts both floor and ceiling at minConns (at least one).
// A hardCap of zero leaves growth unbounded.
func NewGrowthPolicy(minConns, hardCap, warnAt int32) *GrowthPolicy {
	if minConns < 1 {
		minConns = 1
	}
	if warnAt <= 0 {
		warnAt = DefaultGrowthWarnThreshold
	}
	return &GrowthPolicy{
		floor:   minConns,
		ceiling: minConns,
		hardCap: hardCap,
		warnAt:  warnAt,
	}
}

// Admit reports whether demand connections fit. When they do not, the ceiling
// and floor are raised to demand and the returned Growth is non-nil.
func (p *GrowthPolicy) Admit(demand int32) (*Growth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if demand <= p.ceiling {
		return nil, nil
	}
	if p.hardCap > 0 && demand > p.hardCap {
		return nil, fmt.Errorf("%w: connection demand %d exceeds cap %d", monitor.ErrResource, demand, p.hardCap)
	}
	g := &Growth{From: p.ceiling, To: demand}
	if demand > p.warnAt && !p.warned {
		g.Excessive = true
		p.warned = true
	}
	p.ceiling = demand
	if p.floor < demand {
		p.floor = demand
	}
	return g, nil
}

// Floor returns the number of connections the pool keeps open.
func (p *GrowthPolicy) Floor() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.floor
}

// Ceiling returns the current connection limit.
func (p *GrowthPolicy) Ceiling() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ceiling
}
