package bvh

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// LevelAmbiguous is reported by FrustumCullingLOD for a leaf whose box
// straddles a distance threshold, so no single level applies and the caller
// must run a finer test.
const LevelAmbiguous = -1

// BVH wraps a Builder and a Frustum behind the public query API. A BVH
// instance owns reusable ray scratch state, so it is neither safe for
// concurrent use nor reentrant: callbacks must not start another query or
// mutation on the same instance.
type BVH[T any] struct {
	builder *Builder[T]
	frustum Frustum

	// Ray scratch reused across queries to avoid per-call allocation.
	rayOrigin r3.Vector
	rayInvDir r3.Vector
	raySign   [3]int
}

// New returns an empty hierarchy.
func New[T any](logger golog.Logger) *BVH[T] {
	return &BVH[T]{builder: NewBuilder[T](logger)}
}

// Builder exposes the underlying builder.
func (b *BVH[T]) Builder() *Builder[T] {
	return b.builder
}

// Frustum returns the planes derived by the most recent culling pass.
func (b *BVH[T]) Frustum() *Frustum {
	return &b.frustum
}

// Root returns the root node, nil when the tree is empty.
func (b *BVH[T]) Root() *Node[T] {
	return b.builder.Root()
}

// Count returns the number of leaves.
func (b *BVH[T]) Count() int {
	return b.builder.Count()
}

// CreateFromArray bulk-builds the tree from parallel slices. An empty input is
// a no-op that leaves any existing tree in place.
func (b *BVH[T]) CreateFromArray(objects []T, boxes []Box, margin float64, onLeaf func(*Node[T])) error {
	if len(objects) == 0 && len(boxes) == 0 {
		return nil
	}
	return b.builder.CreateFromArray(objects, boxes, margin, onLeaf)
}

// Insert adds one object with its box, fattened by margin.
func (b *BVH[T]) Insert(object T, box Box, margin float64) (*Node[T], error) {
	return b.builder.Insert(object, box, margin)
}

// InsertRange adds many objects. An empty input is a no-op. See
// Builder.InsertRange for margin broadcasting rules.
func (b *BVH[T]) InsertRange(objects []T, boxes []Box, margins []float64, onLeaf func(*Node[T])) error {
	if len(objects) == 0 && len(boxes) == 0 {
		return nil
	}
	return b.builder.InsertRange(objects, boxes, margins, onLeaf)
}

// Move reindexes a leaf after its object moved to box.
func (b *BVH[T]) Move(node *Node[T], box Box, margin float64) error {
	return b.builder.Move(node, box, margin)
}

// Delete removes a leaf.
func (b *BVH[T]) Delete(node *Node[T]) (*Node[T], error) {
	return b.builder.Delete(node)
}

// Clear discards the whole tree.
func (b *BVH[T]) Clear() {
	b.builder.Clear()
}

// Traverse walks the tree pre-order, invoking fn with each node and its depth
// (root is depth 0). Returning true from an internal node prunes its subtree;
// the return value of leaf invocations is ignored.
func (b *BVH[T]) Traverse(fn func(node *Node[T], depth int) bool) {
	root := b.builder.Root()
	if root == nil {
		return
	}
	var walk func(n *Node[T], depth int)
	walk = func(n *Node[T], depth int) {
		stop := fn(n, depth)
		if n.IsLeaf() || stop {
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(root, 0)
}

// IntersectsBox descends into every subtree overlapping box and reports
// whether any leaf callback returned true. Traversal short-circuits on the
// first true.
func (b *BVH[T]) IntersectsBox(box Box, onIntersection func(T) bool) bool {
	root := b.builder.Root()
	if root == nil {
		return false
	}
	return intersectBoxSubtree(root, box, onIntersection)
}

func intersectBoxSubtree[T any](n *Node[T], box Box, fn func(T) bool) bool {
	if !n.Box.IntersectsBox(box) {
		return false
	}
	if n.IsLeaf() {
		return fn(n.object)
	}
	return intersectBoxSubtree(n.left, box, fn) || intersectBoxSubtree(n.right, box, fn)
}

// IntersectsSphere is IntersectsBox for a sphere query shape.
func (b *BVH[T]) IntersectsSphere(center r3.Vector, radius float64, onIntersection func(T) bool) bool {
	root := b.builder.Root()
	if root == nil {
		return false
	}
	var descend func(n *Node[T]) bool
	descend = func(n *Node[T]) bool {
		if !n.Box.IntersectsSphere(center, radius) {
			return false
		}
		if n.IsLeaf() {
			return onIntersection(n.object)
		}
		return descend(n.left) || descend(n.right)
	}
	return descend(root)
}

// IntersectsRay casts the ray dir from origin, accepting hits with a ray
// parameter in [near, far), and reports whether any leaf callback returned
// true. Use near 0 and far +Inf for an unbounded ray.
func (b *BVH[T]) IntersectsRay(dir, origin r3.Vector, near, far float64, onIntersection func(T) bool) bool {
	root := b.builder.Root()
	if root == nil {
		return false
	}
	b.setRayScratch(dir, origin)
	var descend func(n *Node[T]) bool
	descend = func(n *Node[T]) bool {
		if !n.Box.IntersectsRay(b.rayOrigin, b.rayInvDir, b.raySign, near, far) {
			return false
		}
		if n.IsLeaf() {
			return onIntersection(n.object)
		}
		return descend(n.left) || descend(n.right)
	}
	return descend(root)
}

// RayIntersections visits every leaf whose box the ray passes through, with no
// short-circuiting, for callers that need all hits rather than the first.
func (b *BVH[T]) RayIntersections(dir, origin r3.Vector, near, far float64, onIntersection func(T)) {
	root := b.builder.Root()
	if root == nil {
		return
	}
	b.setRayScratch(dir, origin)
	var descend func(n *Node[T])
	descend = func(n *Node[T]) {
		if !n.Box.IntersectsRay(b.rayOrigin, b.rayInvDir, b.raySign, near, far) {
			return
		}
		if n.IsLeaf() {
			onIntersection(n.object)
			return
		}
		descend(n.left)
		descend(n.right)
	}
	descend(root)
}

func (b *BVH[T]) setRayScratch(dir, origin r3.Vector) {
	b.rayOrigin = origin
	b.rayInvDir = r3.Vector{X: 1 / dir.X, Y: 1 / dir.Y, Z: 1 / dir.Z}
	b.raySign = [3]int{}
	if b.rayInvDir.X < 0 {
		b.raySign[0] = 1
	}
	if b.rayInvDir.Y < 0 {
		b.raySign[1] = 1
	}
	if b.rayInvDir.Z < 0 {
		b.raySign[2] = 1
	}
}

// IsNodeIntersected walks from node toward the root, testing each opposite
// sibling subtree against node's own box. It answers "does anything else in
// the tree overlap my current box" without re-testing the node's own ancestor
// chain, which is how newly introduced collisions are detected after a move.
func (b *BVH[T]) IsNodeIntersected(node *Node[T], onIntersection func(T) bool) bool {
	for n := node; n.parent != nil; n = n.parent {
		if sib := n.sibling(); sib != nil && intersectBoxSubtree(sib, node.Box, onIntersection) {
			return true
		}
	}
	return false
}

// ClosestPointToPoint runs a best-first branch-and-bound search for the leaf
// nearest to point. At each leaf the squared distance is either supplied by
// onClosest (letting the caller measure against the actual object rather than
// its box) or falls back to the box lower bound; onClosest returning ok=false
// selects the fallback. The returned distance is the square root of the best
// squared distance found; ok is false only for an empty tree.
func (b *BVH[T]) ClosestPointToPoint(point r3.Vector, onClosest func(T) (float64, bool)) (float64, bool) {
	root := b.builder.Root()
	if root == nil {
		return 0, false
	}
	bestSq := math.Inf(1)
	var descend func(n *Node[T])
	descend = func(n *Node[T]) {
		if n.IsLeaf() {
			dSq := n.Box.MinDistSqToPoint(point)
			if onClosest != nil {
				if v, ok := onClosest(n.object); ok {
					dSq = v
				}
			}
			if dSq < bestSq {
				bestSq = dSq
			}
			return
		}
		// Descend into the closer child first; the farther child only if its
		// lower bound can still beat the current best.
		nearChild, farChild := n.left, n.right
		nearSq := nearChild.Box.MinDistSqToPoint(point)
		farSq := farChild.Box.MinDistSqToPoint(point)
		if farSq < nearSq {
			nearChild, farChild = farChild, nearChild
			nearSq, farSq = farSq, nearSq
		}
		if nearSq < bestSq {
			descend(nearChild)
		}
		if farSq < bestSq {
			descend(farChild)
		}
	}
	descend(root)
	return math.Sqrt(bestSq), true
}

// FrustumCulling derives the six planes from the projection matrix once, then
// descends with a six-bit coherency mask. A subtree fully inside every
// remaining plane is drained without further plane tests. onIntersection
// receives each visible leaf with the mask that was in effect when it was
// reached; the derived planes are available via Frustum.
func (b *BVH[T]) FrustumCulling(proj mgl64.Mat4, conv DepthConvention, onIntersection func(node *Node[T], mask uint8)) {
	root := b.builder.Root()
	if root == nil {
		return
	}
	b.frustum.SetFromProjectionMatrix(proj, conv)
	b.cull(root, fullMask, onIntersection)
}

func (b *BVH[T]) cull(n *Node[T], mask uint8, fn func(*Node[T], uint8)) {
	mask, ok := b.frustum.IntersectsBoxMask(n.Box, mask)
	if !ok {
		return
	}
	if n.IsLeaf() {
		fn(n, mask)
		return
	}
	if mask == 0 {
		b.drain(n, fn)
		return
	}
	b.cull(n.left, mask, fn)
	b.cull(n.right, mask, fn)
}

// drain reports every leaf beneath n without any plane testing.
func (b *BVH[T]) drain(n *Node[T], fn func(*Node[T], uint8)) {
	if n.IsLeaf() {
		fn(n, 0)
		return
	}
	b.drain(n.left, fn)
	b.drain(n.right, fn)
}

// FrustumCullingLOD is FrustumCulling with level-of-detail bucketing: each
// visible leaf is classified by comparing its squared min/max distance from
// the camera against levels, an ascending list of squared distance thresholds.
// A leaf whose box straddles a threshold is reported with LevelAmbiguous
// rather than an arbitrary pick.
func (b *BVH[T]) FrustumCullingLOD(
	proj mgl64.Mat4,
	conv DepthConvention,
	camera r3.Vector,
	levels []float64,
	onIntersection func(node *Node[T], level int, mask uint8),
) {
	root := b.builder.Root()
	if root == nil {
		return
	}
	b.frustum.SetFromProjectionMatrix(proj, conv)
	b.cullLOD(root, fullMask, camera, levels, onIntersection)
}

func (b *BVH[T]) cullLOD(
	n *Node[T],
	mask uint8,
	camera r3.Vector,
	levels []float64,
	fn func(*Node[T], int, uint8),
) {
	if mask != 0 {
		var ok bool
		if mask, ok = b.frustum.IntersectsBoxMask(n.Box, mask); !ok {
			return
		}
	}
	if n.IsLeaf() {
		fn(n, levelForBox(n.Box, camera, levels), mask)
		return
	}
	b.cullLOD(n.left, mask, camera, levels, fn)
	b.cullLOD(n.right, mask, camera, levels, fn)
}

// levelForBox buckets a box by camera distance. Thresholds are squared
// distances in ascending order; level i means both distance bounds fall
// between thresholds i-1 and i.
func levelForBox(box Box, camera r3.Vector, levels []float64) int {
	minSq, maxSq := box.MinMaxDistSqToPoint(camera)
	lo := distanceLevel(minSq, levels)
	hi := distanceLevel(maxSq, levels)
	if lo != hi {
		return LevelAmbiguous
	}
	return lo
}

func distanceLevel(dSq float64, levels []float64) int {
	for i, threshold := range levels {
		if dSq < threshold {
			return i
		}
	}
	return len(levels)
}
