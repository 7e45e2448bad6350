package bvh

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// DepthConvention selects the clip-space depth range the projection matrix was
// built for, which changes how the near plane is derived.
type DepthConvention int

const (
	// DepthNegativeOneToOne is the OpenGL-style clip volume with z in [-1, 1].
	DepthNegativeOneToOne DepthConvention = iota
	// DepthZeroToOne is the Direct3D/Vulkan/WebGPU-style clip volume with z in [0, 1].
	DepthZeroToOne
)

// fullMask has one bit set per frustum plane still worth testing.
const fullMask uint8 = 0b111111

// plane is the halfspace normal·p + constant >= 0.
type plane struct {
	normal   r3.Vector
	constant float64
}

func (p plane) distanceToPoint(x, y, z float64) float64 {
	return p.normal.X*x + p.normal.Y*y + p.normal.Z*z + p.constant
}

// Frustum holds the six clipping planes of a projection, ordered right, left,
// bottom, top, far, near. It is stateless between culling passes apart from
// caching the last-derived planes.
type Frustum struct {
	planes [6]plane
}

// SetFromProjectionMatrix derives the six planes from a column-major 4x4
// projection (or view-projection) matrix using the Gribb/Hartmann row
// combinations. The near plane depends on the depth convention.
func (f *Frustum) SetFromProjectionMatrix(m mgl64.Mat4, conv DepthConvention) {
	f.planes[0] = newPlane(m[3]-m[0], m[7]-m[4], m[11]-m[8], m[15]-m[12])
	f.planes[1] = newPlane(m[3]+m[0], m[7]+m[4], m[11]+m[8], m[15]+m[12])
	f.planes[2] = newPlane(m[3]+m[1], m[7]+m[5], m[11]+m[9], m[15]+m[13])
	f.planes[3] = newPlane(m[3]-m[1], m[7]-m[5], m[11]-m[9], m[15]-m[13])
	f.planes[4] = newPlane(m[3]-m[2], m[7]-m[6], m[11]-m[10], m[15]-m[14])
	if conv == DepthZeroToOne {
		// Clip z >= 0 already bounds the near side.
		f.planes[5] = newPlane(m[2], m[6], m[10], m[14])
	} else {
		f.planes[5] = newPlane(m[3]+m[2], m[7]+m[6], m[11]+m[10], m[15]+m[14])
	}
}

func newPlane(a, bb, c, d float64) plane {
	n := r3.Vector{X: a, Y: bb, Z: c}
	length := math.Sqrt(n.X*n.X + n.Y*n.Y + n.Z*n.Z)
	if length == 0 {
		return plane{normal: n, constant: d}
	}
	inv := 1 / length
	return plane{normal: n.Mul(inv), constant: d * inv}
}

// IntersectsBox reports whether the box overlaps the frustum.
func (f *Frustum) IntersectsBox(box Box) bool {
	_, ok := f.IntersectsBoxMask(box, fullMask)
	return ok
}

// IntersectsBoxMask tests the box against the planes whose bits are set in
// mask. It returns false when the box lies fully outside some plane. Otherwise
// it returns the narrowed mask: a cleared bit means the box (and therefore
// every box contained in it) is fully inside that plane, so descendants can
// skip it. A returned mask of zero means the box is fully inside every
// remaining plane.
func (f *Frustum) IntersectsBoxMask(box Box, mask uint8) (uint8, bool) {
	out := mask
	for i := 0; i < 6; i++ {
		bit := uint8(1) << i
		if mask&bit == 0 {
			continue
		}
		p := f.planes[i]

		// Farthest corner along the plane normal. If even that corner is
		// behind the plane, the whole box is outside.
		px, py, pz := box[1], box[3], box[5]
		if p.normal.X < 0 {
			px = box[0]
		}
		if p.normal.Y < 0 {
			py = box[2]
		}
		if p.normal.Z < 0 {
			pz = box[4]
		}
		if p.distanceToPoint(px, py, pz) < 0 {
			return 0, false
		}

		// Nearest corner. If it is inside too, the box no longer straddles
		// this plane and descendants need not test it.
		nx, ny, nz := box[0], box[2], box[4]
		if p.normal.X < 0 {
			nx = box[1]
		}
		if p.normal.Y < 0 {
			ny = box[3]
		}
		if p.normal.Z < 0 {
			nz = box[5]
		}
		if p.distanceToPoint(nx, ny, nz) >= 0 {
			out &^= bit
		}
	}
	return out, true
}
