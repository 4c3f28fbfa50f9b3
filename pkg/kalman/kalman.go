// Package kalman is a constant velocity Kalman filter over a bounding box.
//
// State is [cx, cy, w, h, vx, vy]. Measurements are [cx, cy, w, h].
// One time step is one video frame.
package kalman

import (
	"fmt"

	"github.com/cyclopcam/propeval/pkg/nn"
	"gonum.org/v1/gonum/mat"
)

const (
	nState = 6
	nMeas  = 4
)

// Params are the noise parameters of the filter.
// Standard deviations are relative to the box size, so that small and large
// objects behave the same.
type Params struct {
	PositionNoise    float64 // Process noise on position, per step, as a fraction of box height
	VelocityNoise    float64 // Process noise on velocity, per step, as a fraction of box height
	MeasurementNoise float64 // Measurement noise, as a fraction of box height
	InitialVelocity  float64 // Std dev of the unknown initial velocity, as a fraction of box height
}

func DefaultParams() Params {
	return Params{
		PositionNoise:    1.0 / 20,
		VelocityNoise:    1.0 / 160,
		MeasurementNoise: 1.0 / 20,
		InitialVelocity:  1.0 / 2,
	}
}

type Filter struct {
	params Params
	x      *mat.VecDense
	p      *mat.Dense
	f      *mat.Dense
	h      *mat.Dense
}

// New creates a filter with an initial position, and unknown (zero mean) velocity
func New(box nn.Box, params Params) *Filter {
	c := box.Center()
	x := mat.NewVecDense(nState, []float64{float64(c.X), float64(c.Y), float64(box.Width()), float64(box.Height()), 0, 0})

	f := mat.NewDense(nState, nState, nil)
	for i := 0; i < nState; i++ {
		f.Set(i, i, 1)
	}
	f.Set(0, 4, 1)
	f.Set(1, 5, 1)

	h := mat.NewDense(nMeas, nState, nil)
	for i := 0; i < nMeas; i++ {
		h.Set(i, i, 1)
	}

	scale := max(float64(box.Height()), 1)
	pos := sq(2 * params.MeasurementNoise * scale)
	vel := sq(params.InitialVelocity * scale)
	p := diag([]float64{pos, pos, pos, pos, vel, vel})

	return &Filter{
		params: params,
		x:      x,
		p:      p,
		f:      f,
		h:      h,
	}
}

func sq(v float64) float64 {
	return v * v
}

func diag(v []float64) *mat.Dense {
	d := mat.NewDense(len(v), len(v), nil)
	for i, x := range v {
		d.Set(i, i, x)
	}
	return d
}

func (k *Filter) scale() float64 {
	return max(k.x.AtVec(3), 1)
}

func (k *Filter) processNoise() *mat.Dense {
	s := k.scale()
	pos := sq(k.params.PositionNoise * s)
	vel := sq(k.params.VelocityNoise * s)
	return diag([]float64{pos, pos, pos, pos, vel, vel})
}

func (k *Filter) measurementNoise() *mat.Dense {
	r := sq(k.params.MeasurementNoise * k.scale())
	return diag([]float64{r, r, r, r})
}

// Predict advances the state by one frame
func (k *Filter) Predict() {
	var x mat.VecDense
	x.MulVec(k.f, k.x)
	k.x = &x

	var fp, fpft mat.Dense
	fp.Mul(k.f, k.p)
	fpft.Mul(&fp, k.f.T())
	fpft.Add(&fpft, k.processNoise())
	k.p = &fpft
}

// Update corrects the state with a measured box
func (k *Filter) Update(box nn.Box) error {
	c := box.Center()
	z := mat.NewVecDense(nMeas, []float64{float64(c.X), float64(c.Y), float64(box.Width()), float64(box.Height())})

	// y = z - Hx
	var hx, y mat.VecDense
	hx.MulVec(k.h, k.x)
	y.SubVec(z, &hx)

	// S = HPH' + R
	var hp, s mat.Dense
	hp.Mul(k.h, k.p)
	s.Mul(&hp, k.h.T())
	s.Add(&s, k.measurementNoise())

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("kalman update: %w", err)
	}

	// K = PH'S^-1
	var pht, gain mat.Dense
	pht.Mul(k.p, k.h.T())
	gain.Mul(&pht, &sInv)

	var ky, x mat.VecDense
	ky.MulVec(&gain, &y)
	x.AddVec(k.x, &ky)
	k.x = &x

	// P = (I - KH)P
	var kh, ikh, p mat.Dense
	kh.Mul(&gain, k.h)
	ikh.Sub(eye(nState), &kh)
	p.Mul(&ikh, k.p)
	k.p = &p
	return nil
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

// Box is the current state estimate as a box
func (k *Filter) Box() nn.Box {
	w := max(k.x.AtVec(2), 0)
	h := max(k.x.AtVec(3), 0)
	return nn.BoxFromCenter(float32(k.x.AtVec(0)), float32(k.x.AtVec(1)), float32(w), float32(h))
}

// Velocity is the current velocity estimate, in pixels per frame
func (k *Filter) Velocity() (float64, float64) {
	return k.x.AtVec(4), k.x.AtVec(5)
}
