package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/millplan/core/planning"
)

// RunRecord captures one planner solve.
type RunRecord struct {
	RunID       string             `json:"run_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Source      string             `json:"source"`
	Horizon     int                `json:"horizon"`
	Status      string             `json:"status"`
	Objective   float64            `json:"objective"`
	TargetsMet  bool               `json:"targets_met"`
	Nodes       int                `json:"nodes"`
	Variables   int                `json:"variables"`
	Constraints int                `json:"constraints"`
	ElapsedMS   float64            `json:"elapsed_ms"`
	Metrics     *planning.Metrics  `json:"metrics,omitempty"`
	Shortfall   map[string]float64 `json:"shortfall,omitempty"`
	Diagnostics int                `json:"diagnostics"`
	Error       string             `json:"error,omitempty"`
}

// NewRunRecord converts a planner result. source names the caller, "plan" or
// "recommend".
func NewRunRecord(res *planning.Result, source string, err error) RunRecord {
	rec := RunRecord{
		RunID:       res.RunID,
		Timestamp:   res.StartedAt,
		Source:      source,
		Horizon:     res.Horizon,
		Status:      res.Status.String(),
		Objective:   res.Objective,
		TargetsMet:  res.TargetsMet(),
		Nodes:       res.Nodes,
		Variables:   res.Variables,
		Constraints: res.Constraints,
		ElapsedMS:   float64(res.Elapsed.Microseconds()) / 1000,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if s := res.Schedule; s != nil {
		m := s.Metrics
		rec.Metrics = &m
		rec.Shortfall = s.Shortfall
		rec.Diagnostics = len(s.Diagnostics)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// RunQuery defines filters for retrieving records.
type RunQuery struct {
	Start  time.Time
	End    time.Time
	Status string
	RunID  string
	// Limit keeps only the most recent records when positive.
	Limit int
}

// Match reports whether r passes every filter of q except Limit.
func (q RunQuery) Match(r RunRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	return true
}

func (q RunQuery) limit(recs []RunRecord) []RunRecord {
	if q.Limit > 0 && len(recs) > q.Limit {
		return recs[len(recs)-q.Limit:]
	}
	return recs
}

// Store persists RunRecords and supports querying. Query returns records in
// chronological order.
type Store interface {
	Append(ctx context.Context, rec RunRecord) error
	Query(ctx context.Context, q RunQuery) ([]RunRecord, error)
	Close() error
}

// Config defines settings for run log storage and rotation.
type Config struct {
	// Backend selects the store type: "jsonl", "sqlite" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB enables rotation of the jsonl backend when positive.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "runs.db"
		default:
			c.Path = "runs.jsonl"
		}
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite", "none":
	default:
		return fmt.Errorf("unknown run log backend %s", c.Backend)
	}
	if c.Backend != "none" && c.Path == "" {
		return fmt.Errorf("run log path is required")
	}
	return nil
}

// Open creates the store selected by cfg. The "none" backend returns a nil
// store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "jsonl":
		if cfg.MaxSizeMB > 0 {
			s, err := NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		s, err := NewJSONLStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown run log backend %s", cfg.Backend)
	}
}
