package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordMonitor struct {
	errs    []error
	tags    []map[string]string
	panics  []any
	flushed int
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}
func (r *recordMonitor) CapturePanic(v any)  { r.panics = append(r.panics, v) }
func (r *recordMonitor) Flush(time.Duration) { r.flushed++ }

func TestCaptureException(t *testing.T) {
	m := &recordMonitor{}
	Init(m)
	defer Reset()

	CaptureException(nil, nil)
	CaptureException(errors.New("boom"), map[string]string{"run_id": "r1"})
	assert.Len(t, m.errs, 1)
	assert.Equal(t, "r1", m.tags[0]["run_id"])

	Init(nil)
	CaptureException(errors.New("again"), nil)
	assert.Len(t, m.errs, 2)
}

func TestRecover(t *testing.T) {
	m := &recordMonitor{}
	Init(m)
	defer Reset()

	assert.PanicsWithValue(t, "bad", func() {
		defer Recover()
		panic("bad")
	})
	assert.Equal(t, []any{"bad"}, m.panics)
	assert.Equal(t, 1, m.flushed)
}
