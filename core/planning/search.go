package planning

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/millplan/core/events"
	"github.com/kilianp07/millplan/core/logger"
	"github.com/kilianp07/millplan/core/milp"
	"github.com/kilianp07/millplan/core/model"
	"github.com/kilianp07/millplan/internal/eventbus"
)

// ErrNoFeasibleHorizon is returned when no horizon up to the ceiling is feasible.
var ErrNoFeasibleHorizon = errors.New("no feasible horizon")

// HorizonPlanner plans a single horizon.
type HorizonPlanner interface {
	Plan(ctx context.Context, horizon int) (*Result, error)
}

// Search finds the smallest horizon whose plan is optimal and meets every
// target.
type Search struct {
	Plant   *model.Plant
	Planner HorizonPlanner
	// MinHorizon and MaxHorizon bound the probed horizons.
	MinHorizon int
	MaxHorizon int
	Bus        eventbus.EventBus
	Log        logger.Logger

	cache map[int]*Result
}

// LowerBound returns the smallest horizon the final stage could meet every
// target in, ignoring all other constraints.
func LowerBound(p *model.Plant, minHorizon int) (int, error) {
	lb := minHorizon
	if lb < 1 {
		lb = 1
	}
	final := p.StageResources(p.NumStages())
	for _, c := range p.Campaigns {
		if c.Target <= 0 {
			continue
		}
		best := 0.0
		for _, r := range final {
			if rate, ok := p.Rate(r, c.Code); ok && rate > best {
				best = rate
			}
		}
		if best <= 0 {
			return 0, fmt.Errorf("%w: campaign %s has no final-stage rate", ErrNoFeasibleHorizon, c.Code)
		}
		if need := int(math.Ceil(c.Target / best)); need > lb {
			lb = need
		}
	}
	return lb, nil
}

// Find probes the lower bound, doubles until a feasible horizon is found and
// bisects down to the smallest one. Every horizon is solved at most once.
func (s *Search) Find(ctx context.Context) (int, error) {
	log := logger.OrNop(s.Log)
	s.cache = make(map[int]*Result)
	lo, err := LowerBound(s.Plant, s.MinHorizon)
	if err != nil {
		return 0, err
	}
	if lo > s.MaxHorizon {
		return 0, fmt.Errorf("%w: lower bound %d exceeds ceiling %d", ErrNoFeasibleHorizon, lo, s.MaxHorizon)
	}
	log.Infof("horizon search: lower bound %d, ceiling %d", lo, s.MaxHorizon)

	ok, err := s.probe(ctx, lo, "lower_bound")
	if err != nil {
		return 0, err
	}
	if ok {
		return lo, nil
	}

	infeasible, hi := lo, lo
	for {
		if hi >= s.MaxHorizon {
			return 0, fmt.Errorf("%w: ceiling %d reached", ErrNoFeasibleHorizon, s.MaxHorizon)
		}
		hi = min(s.MaxHorizon, hi*2)
		ok, err := s.probe(ctx, hi, "doubling")
		if err != nil {
			return 0, err
		}
		if ok {
			break
		}
		infeasible = hi
	}

	left, right := infeasible+1, hi
	best := hi
	for left <= right {
		mid := (left + right) / 2
		ok, err := s.probe(ctx, mid, "bisect")
		if err != nil {
			return 0, err
		}
		if ok {
			best = mid
			right = mid - 1
		} else {
			left = mid + 1
		}
	}
	log.Infof("horizon search: minimal feasible horizon %d after %d solves", best, len(s.cache))
	return best, nil
}

// Result returns the cached plan of a probed horizon.
func (s *Search) Result(h int) (*Result, bool) {
	r, ok := s.cache[h]
	return r, ok
}

// Probes returns the number of horizons solved by the last Find.
func (s *Search) Probes() int { return len(s.cache) }

func (s *Search) probe(ctx context.Context, h int, phase string) (bool, error) {
	if r, ok := s.cache[h]; ok {
		s.emit(h, phase, r.Feasible(), true)
		return r.Feasible(), nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := s.Planner.Plan(ctx, h)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		return false, err
	case errors.Is(err, milp.ErrNumerical), res != nil:
		logger.OrNop(s.Log).Warnf("horizon %d treated as infeasible: %v", h, err)
	default:
		return false, err
	}
	if res == nil {
		res = &Result{Horizon: h, Status: milp.StatusError}
	}
	s.cache[h] = res
	s.emit(h, phase, res.Feasible(), false)
	return res.Feasible(), nil
}

func (s *Search) emit(h int, phase string, feasible, cached bool) {
	logger.OrNop(s.Log).Infof("probe horizon=%d phase=%s feasible=%v cached=%v", h, phase, feasible, cached)
	if s.Bus != nil {
		s.Bus.Publish(events.ProbeEvent{Horizon: h, Phase: phase, Feasible: feasible, Cached: cached})
	}
}
