package milp

import "math"

const (
	// etaDropTol drops negligible entries when an eta column is stored.
	etaDropTol = 1e-12
	// maxEtaEntries caps the memory held by the basis factors.
	maxEtaEntries = 1 << 23
)

// eta is one elementary column transform of the product-form inverse: the
// basis column at row was replaced by a column whose transformed image is
// pivot at row and val[k] at idx[k].
type eta struct {
	row   int
	pivot float64
	idx   []int
	val   []float64
}

// etaFile holds B⁻¹ as a product of eta transforms.
type etaFile struct {
	etas    []eta
	entries int
}

func (f *etaFile) reset() {
	f.etas = f.etas[:0]
	f.entries = 0
}

// push records the transform that pivots alpha on row. alpha is the image of
// the entering column under the current inverse.
func (f *etaFile) push(row int, alpha []float64) error {
	e := eta{row: row, pivot: alpha[row]}
	for i, v := range alpha {
		if i == row || math.Abs(v) <= etaDropTol {
			continue
		}
		e.idx = append(e.idx, i)
		e.val = append(e.val, v)
	}
	f.entries += len(e.idx) + 1
	if f.entries > maxEtaEntries {
		return ErrTooLarge
	}
	f.etas = append(f.etas, e)
	return nil
}

// ftran overwrites v with B⁻¹·v.
func (f *etaFile) ftran(v []float64) {
	for k := range f.etas {
		e := &f.etas[k]
		vr := v[e.row]
		if vr == 0 {
			continue
		}
		vr /= e.pivot
		v[e.row] = vr
		for i, r := range e.idx {
			v[r] -= e.val[i] * vr
		}
	}
}

// btran overwrites y with B⁻ᵀ·y.
func (f *etaFile) btran(y []float64) {
	for k := len(f.etas) - 1; k >= 0; k-- {
		e := &f.etas[k]
		s := y[e.row]
		for i, r := range e.idx {
			s -= e.val[i] * y[r]
		}
		y[e.row] = s / e.pivot
	}
}

func (f *etaFile) size() int { return len(f.etas) }
