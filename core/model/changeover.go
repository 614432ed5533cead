package model

import (
	"fmt"
	"math"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ChangeoverKey identifies the changeover of a resource from one campaign to
// another.
type ChangeoverKey struct {
	Resource string
	From     string
	To       string
}

// ChangeoverTable is an explicit lookup of changeover durations in hours.
// Every ordered pair of campaigns a resource can run must be present.
type ChangeoverTable map[ChangeoverKey]float64

// Set records the duration of the (r, from, to) changeover.
func (c ChangeoverTable) Set(r, from, to string, hours float64) {
	c[ChangeoverKey{Resource: r, From: from, To: to}] = hours
}

// Get returns the duration of the (r, from, to) changeover.
func (c ChangeoverTable) Get(r, from, to string) (float64, bool) {
	h, ok := c[ChangeoverKey{Resource: r, From: from, To: to}]
	return h, ok
}

// Missing lists the ordered pairs of campaigns that r can run but that have no
// entry in the table.
func (c ChangeoverTable) Missing(r string, campaigns []string) []string {
	var out []string
	for _, from := range campaigns {
		for _, to := range campaigns {
			if from == to {
				continue
			}
			if _, ok := c.Get(r, from, to); !ok {
				out = append(out, from+"->"+to)
			}
		}
	}
	return out
}

func (c ChangeoverTable) validate(p *Plant, resources, campaigns mapset.Set[string]) error {
	for key, h := range c {
		if !resources.Contains(key.Resource) {
			return fmt.Errorf("%w: changeover references unknown resource %s", ErrInvalidPlant, key.Resource)
		}
		if !campaigns.Contains(key.From) || !campaigns.Contains(key.To) {
			return fmt.Errorf("%w: changeover %s->%s on %s references an unknown campaign", ErrInvalidPlant, key.From, key.To, key.Resource)
		}
		if h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return fmt.Errorf("%w: changeover %s->%s on %s has invalid duration %v", ErrInvalidPlant, key.From, key.To, key.Resource, h)
		}
	}
	ids := p.ResourceIDs()
	sort.Strings(ids)
	for _, r := range ids {
		if missing := c.Missing(r, p.Runnable(r)); len(missing) > 0 {
			return fmt.Errorf("%w: changeover table of %s is incomplete, missing %s", ErrInvalidPlant, r, strings.Join(missing, ", "))
		}
	}
	return nil
}
