// Package bvh implements a dynamic bounding volume hierarchy: a mutable binary
// tree of axis-aligned boxes that supports incremental insertion and removal of
// moving objects, surface-area-heuristic tree repair, and spatial queries such
// as ray/box/sphere intersection, nearest point, and coherent frustum culling.
package bvh

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box is an axis-aligned bounding box stored as [xMin, xMax, yMin, yMax, zMin, zMax].
// A valid box has min <= max on every axis. Infinite components are legal and are
// used as accumulator sentinels during bulk construction.
type Box [6]float64

// NewBoxFromPoints returns the smallest box containing both given points.
func NewBoxFromPoints(a, b r3.Vector) Box {
	return Box{
		math.Min(a.X, b.X), math.Max(a.X, b.X),
		math.Min(a.Y, b.Y), math.Max(a.Y, b.Y),
		math.Min(a.Z, b.Z), math.Max(a.Z, b.Z),
	}
}

// emptyBox is the identity element for Union; any real box absorbs it.
func emptyBox() Box {
	inf := math.Inf(1)
	return Box{inf, -inf, inf, -inf, inf, -inf}
}

// Check validates the axis ordering of the box. It returns an InvalidBox error
// when any axis has min > max.
func (b Box) Check() error {
	if b[0] > b[1] || b[2] > b[3] || b[4] > b[5] {
		return newInvalidBoxError(b)
	}
	return nil
}

// Center returns the centroid of the box.
func (b Box) Center() r3.Vector {
	return r3.Vector{X: (b[0] + b[1]) * 0.5, Y: (b[2] + b[3]) * 0.5, Z: (b[4] + b[5]) * 0.5}
}

// Union returns the smallest box containing both a and b.
func Union(a, b Box) Box {
	return Box{
		math.Min(a[0], b[0]), math.Max(a[1], b[1]),
		math.Min(a[2], b[2]), math.Max(a[3], b[3]),
		math.Min(a[4], b[4]), math.Max(a[5], b[5]),
	}
}

// SetUnion recomputes the box in place as the union of l and r and reports
// whether the box actually changed. The change report lets upward refits stop
// as soon as an ancestor's box is already correct.
func (b *Box) SetUnion(l, r Box) bool {
	u := Union(l, r)
	if *b == u {
		return false
	}
	*b = u
	return true
}

// Area returns the surface area of the box, the cost proxy used by the
// surface-area heuristic.
func (b Box) Area() float64 {
	dx := b[1] - b[0]
	dy := b[3] - b[2]
	dz := b[5] - b[4]
	return 2 * (dx*dy + dx*dz + dy*dz)
}

// AreaOfUnion returns the surface area of the union of a and b without
// materializing the union.
func AreaOfUnion(a, b Box) float64 {
	dx := math.Max(a[1], b[1]) - math.Min(a[0], b[0])
	dy := math.Max(a[3], b[3]) - math.Min(a[2], b[2])
	dz := math.Max(a[5], b[5]) - math.Min(a[4], b[4])
	return 2 * (dx*dy + dx*dz + dy*dz)
}

// Contains reports whether inner lies entirely within b.
func (b Box) Contains(inner Box) bool {
	return b[0] <= inner[0] && b[1] >= inner[1] &&
		b[2] <= inner[2] && b[3] >= inner[3] &&
		b[4] <= inner[4] && b[5] >= inner[5]
}

// Expanded returns the box inflated symmetrically on all axes by margin.
// Margins <= 0 leave the box unchanged.
func (b Box) Expanded(margin float64) Box {
	if margin <= 0 {
		return b
	}
	return Box{
		b[0] - margin, b[1] + margin,
		b[2] - margin, b[3] + margin,
		b[4] - margin, b[5] + margin,
	}
}

// LongestAxis returns the index (0=x, 1=y, 2=z) of the axis with the largest
// extent.
func LongestAxis(b Box) int {
	dx := b[1] - b[0]
	dy := b[3] - b[2]
	dz := b[5] - b[4]
	axis := 0
	longest := dx
	if dy > longest {
		axis, longest = 1, dy
	}
	if dz > longest {
		axis = 2
	}
	return axis
}

// IntersectsBox reports whether b and o overlap, boundaries included.
func (b Box) IntersectsBox(o Box) bool {
	return b[0] <= o[1] && b[1] >= o[0] &&
		b[2] <= o[3] && b[3] >= o[2] &&
		b[4] <= o[5] && b[5] >= o[4]
}

// IntersectsSphere reports whether the sphere with the given center and radius
// overlaps b.
func (b Box) IntersectsSphere(center r3.Vector, radius float64) bool {
	return b.MinDistSqToPoint(center) <= radius*radius
}

// IntersectsRay performs the slab test against a ray given by its origin, the
// precomputed reciprocal of its direction and the per-axis sign of that
// reciprocal (1 when negative, 0 otherwise). The ray parameter must fall in
// [near, far) for a hit to count.
func (b Box) IntersectsRay(origin, invDir r3.Vector, sign [3]int, near, far float64) bool {
	tmin := (b[sign[0]] - origin.X) * invDir.X
	tmax := (b[1-sign[0]] - origin.X) * invDir.X

	tymin := (b[2+sign[1]] - origin.Y) * invDir.Y
	tymax := (b[3-sign[1]] - origin.Y) * invDir.Y
	if tmin > tymax || tymin > tmax {
		return false
	}
	if tymin > tmin {
		tmin = tymin
	}
	if tymax < tmax {
		tmax = tymax
	}

	tzmin := (b[4+sign[2]] - origin.Z) * invDir.Z
	tzmax := (b[5-sign[2]] - origin.Z) * invDir.Z
	if tmin > tzmax || tzmin > tmax {
		return false
	}
	if tzmin > tmin {
		tmin = tzmin
	}
	if tzmax < tmax {
		tmax = tzmax
	}

	return tmin < far && tmax >= near
}

// MinDistSqToPoint returns the squared distance from p to the closest point of
// the box. Points inside the box yield zero.
func (b Box) MinDistSqToPoint(p r3.Vector) float64 {
	d := 0.0
	if v := axisDist(p.X, b[0], b[1]); v != 0 {
		d += v * v
	}
	if v := axisDist(p.Y, b[2], b[3]); v != 0 {
		d += v * v
	}
	if v := axisDist(p.Z, b[4], b[5]); v != 0 {
		d += v * v
	}
	return d
}

// MinMaxDistSqToPoint returns the squared distance from p to the closest and to
// the farthest point of the box. The pair bounds the distance from p to
// anything the box contains, which drives branch-and-bound pruning and
// level-of-detail bucketing.
func (b Box) MinMaxDistSqToPoint(p r3.Vector) (minSq, maxSq float64) {
	if v := axisDist(p.X, b[0], b[1]); v != 0 {
		minSq += v * v
	}
	if v := axisDist(p.Y, b[2], b[3]); v != 0 {
		minSq += v * v
	}
	if v := axisDist(p.Z, b[4], b[5]); v != 0 {
		minSq += v * v
	}
	maxSq = axisFarDistSq(p.X, b[0], b[1]) + axisFarDistSq(p.Y, b[2], b[3]) + axisFarDistSq(p.Z, b[4], b[5])
	return minSq, maxSq
}

// axisDist is the signed 1D gap between v and the interval [lo, hi], zero when
// v lies inside it.
func axisDist(v, lo, hi float64) float64 {
	if v < lo {
		return lo - v
	}
	if v > hi {
		return v - hi
	}
	return 0
}

// axisFarDistSq is the squared 1D distance from v to the farther endpoint of
// [lo, hi].
func axisFarDistSq(v, lo, hi float64) float64 {
	dLo := v - lo
	dHi := v - hi
	if dLo*dLo > dHi*dHi {
		return dLo * dLo
	}
	return dHi * dHi
}
