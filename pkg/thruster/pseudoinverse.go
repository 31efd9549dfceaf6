package thruster

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl64"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the singular value threshold, relative to the largest
// singular value, below which a direction is treated as uncontrollable.
const rankTolerance = 1e-9

// Rebuild describes one completed pseudo-inverse derivation.
type Rebuild struct {
	Key      uint64
	Rank     int
	Cached   bool
	Duration time.Duration
	Err      error
}

type inverse struct {
	key    uint64
	caps   []float64
	matrix *mat.Dense // 6xN, column i is cap_i * [f_i; r_i x f_i]
	pinv   *mat.Dense // Nx6
	rank   int
	err    error
}

// PseudoInverse allocates through the Moore-Penrose inverse of the thruster
// configuration matrix. Each command is a duty in [0, 1] scaled by the
// thruster's capacity. Allocate always reads the most recently published
// inverse; rebuilds never mutate a published inverse in place.
type PseudoInverse struct {
	thrusters  []Thruster
	iterations int

	current   atomic.Pointer[inverse]
	cache     *lru.Cache[uint64, *inverse]
	flight    singleflight.Group
	requested atomic.Uint64

	mu        sync.Mutex
	published uint64
	onRebuild func(Rebuild)
}

// NewPseudoInverse derives the initial inverse synchronously. A singular
// layout is not an error here: the allocator is returned and produces zero
// commands until capacities make the layout controllable.
func NewPseudoInverse(thrusters []Thruster, cfg Config) (*PseudoInverse, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultConfig().CacheSize
	}
	cache, err := lru.New[uint64, *inverse](size)
	if err != nil {
		return nil, fmt.Errorf("create inverse cache: %w", err)
	}
	iterations := cfg.Iterations
	if iterations < 1 {
		iterations = 1
	}
	p := &PseudoInverse{
		thrusters:  append([]Thruster(nil), thrusters...),
		iterations: iterations,
		cache:      cache,
	}
	_ = p.SetCapacities(Capacities(thrusters))
	return p, nil
}

// OnRebuild registers fn to be called after every rebuild. fn may run on a
// background goroutine when RebuildAsync is used.
func (p *PseudoInverse) OnRebuild(fn func(Rebuild)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRebuild = fn
}

// Len returns the number of thrusters.
func (p *PseudoInverse) Len() int {
	return len(p.thrusters)
}

// Rank returns the rank of the published configuration matrix.
func (p *PseudoInverse) Rank() int {
	if inv := p.current.Load(); inv != nil {
		return inv.rank
	}
	return 0
}

// Capacities returns the capacities of the published inverse.
func (p *PseudoInverse) Capacities() []float64 {
	if inv := p.current.Load(); inv != nil {
		return append([]float64(nil), inv.caps...)
	}
	return Capacities(p.thrusters)
}

// SetCapacities rebuilds and publishes the inverse for caps before
// returning. It returns ErrSingular or ErrNoThrusters when the resulting
// layout cannot be allocated; the failed state is still published so that
// Allocate reports zeros rather than using stale capacities.
func (p *PseudoInverse) SetCapacities(caps []float64) error {
	if err := checkCapacities(len(p.thrusters), caps); err != nil {
		return err
	}
	gen := p.requested.Add(1)
	start := time.Now()
	inv, cached := p.lookup(append([]float64(nil), caps...))
	p.publish(gen, inv, cached, time.Since(start))
	return inv.err
}

// RebuildAsync derives the inverse for caps on a background goroutine and
// publishes it on completion. Concurrent requests for the same geometry
// share one derivation. The returned channel receives the rebuild error, or
// ctx.Err() when ctx ends first, in which case nothing is published.
func (p *PseudoInverse) RebuildAsync(ctx context.Context, caps []float64) <-chan error {
	done := make(chan error, 1)
	if err := checkCapacities(len(p.thrusters), caps); err != nil {
		done <- err
		return done
	}
	caps = append([]float64(nil), caps...)
	gen := p.requested.Add(1)
	key := fingerprint(p.thrusters, caps)

	go func() {
		start := time.Now()
		ch := p.flight.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
			inv, cached := p.lookup(caps)
			return lookupResult{inv, cached}, nil
		})
		select {
		case <-ctx.Done():
			done <- ctx.Err()
		case res := <-ch:
			r := res.Val.(lookupResult)
			p.publish(gen, r.inv, r.cached, time.Since(start))
			done <- r.inv.err
		}
	}()
	return done
}

type lookupResult struct {
	inv    *inverse
	cached bool
}

func (p *PseudoInverse) lookup(caps []float64) (*inverse, bool) {
	key := fingerprint(p.thrusters, caps)
	if inv, ok := p.cache.Get(key); ok {
		return inv, true
	}
	inv := derive(p.thrusters, caps)
	inv.key = key
	p.cache.Add(key, inv)
	return inv, false
}

// publish installs inv unless a newer request has already been published.
func (p *PseudoInverse) publish(gen uint64, inv *inverse, cached bool, took time.Duration) {
	p.mu.Lock()
	if gen < p.published {
		p.mu.Unlock()
		return
	}
	p.published = gen
	p.current.Store(inv)
	fn := p.onRebuild
	p.mu.Unlock()

	if fn != nil {
		fn(Rebuild{Key: inv.key, Rank: inv.rank, Cached: cached, Duration: took, Err: inv.err})
	}
}

// Allocate solves for duties with the published inverse. Duties that the
// clamp to [0, 1] cuts off leave a residual wrench, which is fed back
// through the inverse for the configured number of passes.
func (p *PseudoInverse) Allocate(force, torque mgl64.Vec3) ([]float64, error) {
	n := len(p.thrusters)
	out := make([]float64, n)
	inv := p.current.Load()
	if inv == nil {
		return out, ErrNoThrusters
	}
	if inv.err != nil {
		return out, inv.err
	}

	want := mat.NewVecDense(6, []float64{
		force[0], force[1], force[2],
		torque[0], torque[1], torque[2],
	})
	duty := mat.NewVecDense(n, nil)
	var achieved, residual, step mat.VecDense
	for k := 0; k < p.iterations; k++ {
		achieved.MulVec(inv.matrix, duty)
		residual.SubVec(want, &achieved)
		step.MulVec(inv.pinv, &residual)
		for i := 0; i < n; i++ {
			duty.SetVec(i, clampUnit(duty.AtVec(i)+step.AtVec(i)))
		}
	}

	for i := range out {
		out[i] = clampDuty(duty.AtVec(i)*inv.caps[i], inv.caps[i])
	}
	return out, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// derive builds the configuration matrix for caps and its pseudo-inverse
// V * S^+ * U^T from a thin SVD.
func derive(thrusters []Thruster, caps []float64) *inverse {
	n := len(thrusters)
	inv := &inverse{caps: caps}
	if n == 0 {
		inv.err = ErrNoThrusters
		return inv
	}

	m := mat.NewDense(6, n, nil)
	for i, t := range thrusters {
		f, tau := t.Force().Mul(caps[i]), t.Torque().Mul(caps[i])
		for r := 0; r < 3; r++ {
			m.Set(r, i, f[r])
			m.Set(r+3, i, tau[r])
		}
	}
	inv.matrix = m

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDThin); !ok {
		inv.err = fmt.Errorf("factorize: %w", ErrSingular)
		return inv
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] <= 0 {
		inv.err = ErrSingular
		return inv
	}
	tol := values[0] * rankTolerance
	for _, s := range values {
		if s > tol {
			inv.rank++
		}
	}
	if inv.rank < 6 {
		inv.err = fmt.Errorf("rank %d: %w", inv.rank, ErrSingular)
		return inv
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	pinv := mat.NewDense(n, 6, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 6; j++ {
			var sum float64
			for l, s := range values {
				if s > tol {
					sum += v.At(i, l) * u.At(j, l) / s
				}
			}
			pinv.Set(i, j, sum)
		}
	}
	inv.pinv = pinv
	return inv
}

// fingerprint hashes thruster geometry and capacities into a cache key.
func fingerprint(thrusters []Thruster, caps []float64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	write := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		d.Write(buf[:])
	}
	for i, t := range thrusters {
		for _, c := range t.Position {
			write(c)
		}
		for _, c := range t.Direction {
			write(c)
		}
		write(caps[i])
	}
	return d.Sum64()
}
