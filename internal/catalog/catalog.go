// Package catalog holds the process-wide, read-only visual-parameter
// catalog and the linear quantization used to serialize param values onto
// the wire. The catalog is built once at package init and shared by
// reference, never mutated.
package catalog

import "math"

// ColorDescriptor names a color-channel contribution a param feeds into
// the alpha/color accumulator built during wearable decode.
type ColorDescriptor struct {
	Channel string
}

// AlphaDescriptor names an alpha-mask contribution, carrying the TGA
// filename the source asset would substitute when the param drives one.
type AlphaDescriptor struct {
	TGAFile string
}

// Param is one visual-parameter catalog entry.
type Param struct {
	ID         int
	Group      int // only group 0 is published
	Min        float32
	Max        float32
	Default    float32
	Color      *ColorDescriptor
	Drivers    []int
	Alpha      *AlphaDescriptor
	IsBump     bool
}

// Quantize linearly maps value in [min,max] to a byte in [0,255]. Values
// outside [min,max] are clamped.
func Quantize(value, min, max float32) byte {
	if max <= min {
		return 0
	}
	clamped := value
	if clamped < min {
		clamped = min
	}
	if clamped > max {
		clamped = max
	}
	frac := float64(clamped-min) / float64(max-min)
	return byte(math.Round(frac * 255.0))
}

// Dequantize is Quantize's inverse, used only by tests to verify
// round-trip-to-within-quantization.
func Dequantize(b byte, min, max float32) float32 {
	frac := float64(b) / 255.0
	return min + float32(frac)*(max-min)
}

// catalog is the process-wide param table, keyed by id, built once at
// package init.
var catalog map[int]Param

// canonicalOrder is the catalog's fixed iteration order for the published
// visual-param vector.
var canonicalOrder []int

func init() {
	catalog = make(map[int]Param, len(seedParams))
	canonicalOrder = make([]int, 0, len(seedParams))
	for _, p := range seedParams {
		catalog[p.ID] = p
		canonicalOrder = append(canonicalOrder, p.ID)
	}
}

// Lookup returns the catalog entry for id and whether it exists.
func Lookup(id int) (Param, bool) {
	p, ok := catalog[id]
	return p, ok
}

// CanonicalOrder returns the catalog's fixed iteration order.
func CanonicalOrder() []int {
	return canonicalOrder
}

// PublishedCount is the fixed length of the published visual-param
// vector: exactly the number of group-0 params.
const PublishedCount = 218

// GroupZeroCount reports how many catalog entries are group 0, used by
// tests to cross-check PublishedCount against the seed table.
func GroupZeroCount() int {
	n := 0
	for _, p := range catalog {
		if p.Group == 0 {
			n++
		}
	}
	return n
}
