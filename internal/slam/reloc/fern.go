// Package reloc implements a random-fern keyframe relocaliser.
//
// Each fern is a small set of binary tests comparing the normalised depth at
// a fixed image location against a threshold. A frame is summarised by one
// code per fern; frames whose codes mostly agree look alike. Keyframes are
// indexed per fern and code so the nearest keyframe can be found without a
// scan over stored codes.
package reloc

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/banshee-data/slamframe/internal/slam"
)

// ErrUnknownKeyframe is returned by DiscardKeyframe for ids it never issued
// or has already discarded.
var ErrUnknownKeyframe = errors.New("unknown keyframe")

// Config controls fern construction and keyframe harvesting.
type Config struct {
	NumFerns            int
	NumDecisionsPerFern int
	// HarvestingThreshold is the minimum dissimilarity to every stored
	// keyframe a candidate must have to be added.
	HarvestingThreshold float64
	// FrustumMin and FrustumMax bound the depth range, in metres, mapped onto [0, 1].
	FrustumMin float32
	FrustumMax float32
	// GridWidth and GridHeight are the size of the block-averaged depth
	// image the tests are evaluated on.
	GridWidth  int
	GridHeight int
	Seed       int64
}

// DefaultConfig returns the harvesting parameters used by the SLAM sessions.
func DefaultConfig() Config {
	return Config{
		NumFerns:            500,
		NumDecisionsPerFern: 4,
		HarvestingThreshold: 0.2,
		FrustumMin:          0.2,
		FrustumMax:          3.0,
		GridWidth:           80,
		GridHeight:          60,
		Seed:                42,
	}
}

func (c Config) validate() error {
	switch {
	case c.NumFerns <= 0:
		return fmt.Errorf("num ferns must be positive, got %d", c.NumFerns)
	case c.NumDecisionsPerFern <= 0 || c.NumDecisionsPerFern > 16:
		return fmt.Errorf("decisions per fern must be in [1, 16], got %d", c.NumDecisionsPerFern)
	case c.HarvestingThreshold < 0 || c.HarvestingThreshold > 1:
		return fmt.Errorf("harvesting threshold must be in [0, 1], got %f", c.HarvestingThreshold)
	case c.FrustumMin <= 0 || c.FrustumMax <= c.FrustumMin:
		return fmt.Errorf("frustum must satisfy 0 < min < max, got [%f, %f]", c.FrustumMin, c.FrustumMax)
	case c.GridWidth <= 0 || c.GridHeight <= 0:
		return fmt.Errorf("grid must be positive, got %dx%d", c.GridWidth, c.GridHeight)
	}
	return nil
}

type decision struct {
	x, y      int // grid cell
	threshold float32
}

type fern struct {
	decisions []decision
	// index maps a code to the keyframes that produced it.
	index map[uint16][]slam.KeyframeID
}

// FernRelocaliser is safe for concurrent use.
type FernRelocaliser struct {
	cfg Config

	mu        sync.Mutex
	ferns     []fern
	keyframes map[slam.KeyframeID][]uint16
	nextID    slam.KeyframeID
}

// New builds the ferns from cfg.Seed. Two relocalisers with the same config
// produce identical codes.
func New(cfg Config) (*FernRelocaliser, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15))
	ferns := make([]fern, cfg.NumFerns)
	for i := range ferns {
		ds := make([]decision, cfg.NumDecisionsPerFern)
		for j := range ds {
			ds[j] = decision{
				x:         rng.IntN(cfg.GridWidth),
				y:         rng.IntN(cfg.GridHeight),
				threshold: rng.Float32(),
			}
		}
		ferns[i] = fern{decisions: ds, index: make(map[uint16][]slam.KeyframeID)}
	}
	return &FernRelocaliser{
		cfg:       cfg,
		ferns:     ferns,
		keyframes: make(map[slam.KeyframeID][]uint16),
	}, nil
}

// Len returns the number of stored keyframes.
func (r *FernRelocaliser) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keyframes)
}

// ProcessFrame finds the stored keyframe most similar to depth and, when
// considerKeyframe is set and the frame differs enough from all of them,
// adds it as a new keyframe. The nearest neighbour is searched before the
// frame is added.
func (r *FernRelocaliser) ProcessFrame(depth *slam.DepthImage, considerKeyframe bool) (slam.RelocalisationResult, error) {
	if depth == nil || depth.Width <= 0 || depth.Height <= 0 {
		return slam.RelocalisationResult{}, errors.New("relocaliser: empty depth image")
	}
	codes := r.encode(normalise(depth, r.cfg))

	r.mu.Lock()
	defer r.mu.Unlock()

	res := slam.RelocalisationResult{KeyframeID: slam.NoKeyframe, NearestNeighbour: slam.NoKeyframe}
	minDissimilarity := 1.0
	if len(r.keyframes) > 0 {
		res.NearestNeighbour, minDissimilarity = r.nearest(codes)
	}

	if considerKeyframe && (len(r.keyframes) == 0 || minDissimilarity > r.cfg.HarvestingThreshold) {
		id := r.nextID
		r.nextID++
		r.keyframes[id] = codes
		for i, code := range codes {
			r.ferns[i].index[code] = append(r.ferns[i].index[code], id)
		}
		res.KeyframeID = id
	}
	return res, nil
}

// DiscardKeyframe removes a keyframe so it is never returned as a nearest
// neighbour. Ids are not reused.
func (r *FernRelocaliser) DiscardKeyframe(id slam.KeyframeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes, ok := r.keyframes[id]
	if !ok {
		return fmt.Errorf("discard keyframe %d: %w", id, ErrUnknownKeyframe)
	}
	delete(r.keyframes, id)
	for i, code := range codes {
		ids := r.ferns[i].index[code]
		for j, k := range ids {
			if k == id {
				ids = append(ids[:j], ids[j+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(r.ferns[i].index, code)
		} else {
			r.ferns[i].index[code] = ids
		}
	}
	return nil
}

// Dissimilarity returns the fraction of ferns whose codes differ between two
// depth images.
func (r *FernRelocaliser) Dissimilarity(a, b *slam.DepthImage) float64 {
	ca := r.encode(normalise(a, r.cfg))
	cb := r.encode(normalise(b, r.cfg))
	differ := 0
	for i := range ca {
		if ca[i] != cb[i] {
			differ++
		}
	}
	return float64(differ) / float64(len(ca))
}

// nearest must be called with r.mu held and at least one keyframe stored.
func (r *FernRelocaliser) nearest(codes []uint16) (slam.KeyframeID, float64) {
	matches := make(map[slam.KeyframeID]int, len(r.keyframes))
	for i, code := range codes {
		for _, id := range r.ferns[i].index[code] {
			matches[id]++
		}
	}
	best := slam.NoKeyframe
	bestMatches := -1
	for id := range r.keyframes {
		m := matches[id]
		if m > bestMatches || (m == bestMatches && id < best) {
			best, bestMatches = id, m
		}
	}
	return best, 1 - float64(bestMatches)/float64(len(r.ferns))
}

func (r *FernRelocaliser) encode(grid []float32) []uint16 {
	codes := make([]uint16, len(r.ferns))
	for i, f := range r.ferns {
		var code uint16
		for j, d := range f.decisions {
			if grid[d.y*r.cfg.GridWidth+d.x] > d.threshold {
				code |= 1 << j
			}
		}
		codes[i] = code
	}
	return codes
}

// normalise block-averages depth onto the configured grid and maps the
// frustum onto [0, 1]. Cells with no valid samples read as -1 so every test
// on them is false.
func normalise(depth *slam.DepthImage, cfg Config) []float32 {
	gw, gh := cfg.GridWidth, cfg.GridHeight
	sum := make([]float32, gw*gh)
	count := make([]int, gw*gh)
	for y := 0; y < depth.Height; y++ {
		gy := y * gh / depth.Height
		for x := 0; x < depth.Width; x++ {
			d := depth.At(x, y)
			if d <= 0 {
				continue
			}
			gx := x * gw / depth.Width
			if d < cfg.FrustumMin {
				d = cfg.FrustumMin
			} else if d > cfg.FrustumMax {
				d = cfg.FrustumMax
			}
			sum[gy*gw+gx] += (d - cfg.FrustumMin) / (cfg.FrustumMax - cfg.FrustumMin)
			count[gy*gw+gx]++
		}
	}
	for i := range sum {
		if count[i] == 0 {
			sum[i] = -1
			continue
		}
		sum[i] /= float32(count[i])
	}
	return sum
}
