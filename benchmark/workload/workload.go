// Package workload generates and replays synthetic image request streams.
//
// Image popularity follows a Zipf distribution and image sizes a
// log-normal one, which together approximate how students page through a
// question bank: a small set of shared diagrams is requested constantly
// while most images are seen once or twice.
package workload

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/prepdash/imagecache/internal/fetch/memfetch"
)

// sizeSigma is the log-normal shape parameter for image sizes.
const sizeSigma = 0.75

// Config describes a workload.
type Config struct {
	Images   int     // Distinct images.
	Requests int     // Total requests.
	ZipfS    float64 // Zipf exponent; must be > 1.
	MeanSize int     // Mean image size in bytes.
	Seed     uint64
}

// Image is one distinct image in a workload.
type Image struct {
	URL  string
	Size int
}

// Workload is a generated request stream.
type Workload struct {
	Config   Config
	Images   []Image
	Requests []int // Indexes into Images, in request order.
}

// Generate builds a deterministic workload from cfg.
func Generate(cfg Config) (*Workload, error) {
	switch {
	case cfg.Images <= 0:
		return nil, errors.New("workload: images must be positive")
	case cfg.Requests <= 0:
		return nil, errors.New("workload: requests must be positive")
	case cfg.ZipfS <= 1:
		return nil, fmt.Errorf("workload: zipf exponent must be > 1, got %v", cfg.ZipfS)
	case cfg.MeanSize <= 0:
		return nil, errors.New("workload: mean size must be positive")
	}

	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)

	sizes := distuv.LogNormal{
		Mu:    math.Log(float64(cfg.MeanSize)) - sizeSigma*sizeSigma/2,
		Sigma: sizeSigma,
		Src:   src,
	}
	w := &Workload{
		Config:   cfg,
		Images:   make([]Image, cfg.Images),
		Requests: make([]int, cfg.Requests),
	}
	for i := range w.Images {
		w.Images[i] = Image{
			URL:  fmt.Sprintf("https://bench.s3.amazonaws.com/img/%05d.png", i),
			Size: max(1, int(sizes.Rand())),
		}
	}

	zipf := rand.NewZipf(rng, cfg.ZipfS, 1, uint64(cfg.Images-1))
	for i := range w.Requests {
		w.Requests[i] = int(zipf.Uint64())
	}
	return w, nil
}

// TotalBytes is the combined size of every distinct image.
func (w *Workload) TotalBytes() int64 {
	var n int64
	for _, img := range w.Images {
		n += int64(img.Size)
	}
	return n
}

// Unique returns how many distinct images are actually requested.
func (w *Workload) Unique() int {
	seen := make(map[int]struct{}, len(w.Images))
	for _, i := range w.Requests {
		seen[i] = struct{}{}
	}
	return len(seen)
}

// Populate registers every image with f.
func (w *Workload) Populate(f *memfetch.Fetcher) {
	for _, img := range w.Images {
		f.Set(img.URL, make([]byte, img.Size), "image/png")
	}
}
