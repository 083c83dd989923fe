// Package framestats measures decoded frames: per-channel statistics, a
// cheap similarity signal between frames, and a 0..100 quality score.
package framestats

import (
	"bytes"
	"fmt"
	"image"
	"math"

	_ "image/jpeg"
	_ "image/png"
)

// DefaultSimilarityThreshold is the similarity above which a candidate frame
// is considered a near-duplicate of an already accepted one.
const DefaultSimilarityThreshold = 0.85

// Stats holds per-channel mean and standard deviation in RGB order, on the
// 0..255 scale, plus the decoded dimensions.
type Stats struct {
	Means  [3]float64
	Stds   [3]float64
	Width  int
	Height int
}

func (s *Stats) Resolution() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Compute decodes an encoded frame and measures it in a single pixel pass.
func Compute(data []byte) (*Stats, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return FromImage(img), nil
}

func FromImage(img image.Image) *Stats {
	b := img.Bounds()
	s := &Stats{Width: b.Dx(), Height: b.Dy()}
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return s
	}

	var sum, sumSq [3]float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			px := [3]float64{float64(r >> 8), float64(g >> 8), float64(bl >> 8)}
			for c := 0; c < 3; c++ {
				sum[c] += px[c]
				sumSq[c] += px[c] * px[c]
			}
		}
	}
	for c := 0; c < 3; c++ {
		mean := sum[c] / n
		variance := sumSq[c]/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		s.Means[c] = mean
		s.Stds[c] = math.Sqrt(variance)
	}
	return s
}

// Similarity compares two frames by channel means: per channel min/max ratio,
// averaged. Two black frames (both means zero) count as identical.
func Similarity(a, b *Stats) float64 {
	var total float64
	for c := 0; c < 3; c++ {
		hi := math.Max(a.Means[c], b.Means[c])
		if hi == 0 {
			total++
			continue
		}
		total += math.Min(a.Means[c], b.Means[c]) / hi
	}
	return total / 3
}

// IsSimilar reports whether the candidate is a near-duplicate of any accepted
// frame. A nil candidate (frame that could not be measured) never matches.
func IsSimilar(candidate *Stats, accepted []*Stats, threshold float64) bool {
	if candidate == nil {
		return false
	}
	for _, s := range accepted {
		if s == nil {
			continue
		}
		if Similarity(candidate, s) > threshold {
			return true
		}
	}
	return false
}

// QualityScore weighs brightness 40% against contrast 60%. Brightness scores
// 100 anywhere in [30,220] and decays linearly toward the extremes; contrast
// is twice the mean standard deviation, capped at 100. Frames that could not
// be measured pass with a full score so the filter never drops them blind.
func QualityScore(s *Stats) int {
	if s == nil {
		return 100
	}

	brightness := (s.Means[0] + s.Means[1] + s.Means[2]) / 3
	var brightScore float64
	switch {
	case brightness < 30:
		brightScore = brightness / 30 * 100
	case brightness > 220:
		brightScore = (255 - brightness) / 35 * 100
	default:
		brightScore = 100
	}

	contrast := (s.Stds[0] + s.Stds[1] + s.Stds[2]) / 3 * 2
	if contrast > 100 {
		contrast = 100
	}

	return int(math.Round(0.4*brightScore + 0.6*contrast))
}
