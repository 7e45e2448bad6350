package bvh

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

// threeBoxes builds the A/B/C row used throughout: three unit boxes at x=0,
// x=10 and x=20.
func threeBoxes(t *testing.T) (*BVH[string], map[string]*Node[string]) {
	t.Helper()
	b := New[string](golog.NewTestLogger(t))
	nodes := map[string]*Node[string]{}
	objects := []string{"A", "B", "C"}
	boxes := []Box{
		{0, 1, 0, 1, 0, 1},
		{10, 11, 0, 1, 0, 1},
		{20, 21, 0, 1, 0, 1},
	}
	err := b.InsertRange(objects, boxes, nil, func(n *Node[string]) { nodes[n.Object()] = n })
	test.That(t, err, test.ShouldBeNil)
	return b, nodes
}

func TestEmptyTreeQueries(t *testing.T) {
	b := New[string](golog.NewTestLogger(t))
	inf := math.Inf(1)

	test.That(t, b.IntersectsBox(Box{-100, 100, -100, 100, -100, 100}, func(string) bool { return true }), test.ShouldBeFalse)
	test.That(t, b.IntersectsSphere(r3.Vector{}, 100, func(string) bool { return true }), test.ShouldBeFalse)
	test.That(t, b.IntersectsRay(r3.Vector{Z: 1}, r3.Vector{}, 0, inf, func(string) bool { return true }), test.ShouldBeFalse)

	_, ok := b.ClosestPointToPoint(r3.Vector{}, nil)
	test.That(t, ok, test.ShouldBeFalse)

	visited := 0
	b.Traverse(func(*Node[string], int) bool { visited++; return false })
	b.RayIntersections(r3.Vector{Z: 1}, r3.Vector{}, 0, inf, func(string) { visited++ })
	b.FrustumCulling(mgl64.Ortho(-1, 1, -1, 1, -1, 1), DepthNegativeOneToOne, func(*Node[string], uint8) { visited++ })
	test.That(t, visited, test.ShouldEqual, 0)
}

func TestFacadeNoOpOnEmptyInput(t *testing.T) {
	b, _ := threeBoxes(t)
	test.That(t, b.CreateFromArray(nil, nil, 0, nil), test.ShouldBeNil)
	test.That(t, b.InsertRange(nil, nil, nil, nil), test.ShouldBeNil)
	test.That(t, b.Count(), test.ShouldEqual, 3)
}

func TestTraverse(t *testing.T) {
	b, _ := threeBoxes(t)

	t.Run("pre-order with depths", func(t *testing.T) {
		leaves := 0
		maxDepth := -1
		b.Traverse(func(n *Node[string], depth int) bool {
			if depth > maxDepth {
				maxDepth = depth
			}
			if n.IsLeaf() {
				leaves++
			} else {
				test.That(t, n.Object(), test.ShouldEqual, "")
			}
			return false
		})
		test.That(t, leaves, test.ShouldEqual, 3)
		test.That(t, maxDepth, test.ShouldBeGreaterThanOrEqualTo, 1)
	})

	t.Run("stop prunes the subtree", func(t *testing.T) {
		visited := 0
		b.Traverse(func(n *Node[string], depth int) bool {
			visited++
			return true
		})
		test.That(t, visited, test.ShouldEqual, 1) // only the root
	})
}

func TestIntersectsBox(t *testing.T) {
	b, _ := threeBoxes(t)

	t.Run("query box over one leaf visits exactly that leaf", func(t *testing.T) {
		var visited []string
		hit := b.IntersectsBox(Box{9, 12, 0, 1, 0, 1}, func(obj string) bool {
			visited = append(visited, obj)
			return false
		})
		test.That(t, hit, test.ShouldBeFalse) // callback never asked to stop
		test.That(t, visited, test.ShouldResemble, []string{"B"})
	})

	t.Run("short-circuits on the first stop", func(t *testing.T) {
		visited := 0
		hit := b.IntersectsBox(Box{-100, 100, -100, 100, -100, 100}, func(string) bool {
			visited++
			return true
		})
		test.That(t, hit, test.ShouldBeTrue)
		test.That(t, visited, test.ShouldEqual, 1)
	})

	t.Run("box containing everything hits iff non-empty", func(t *testing.T) {
		all := Box{-1000, 1000, -1000, 1000, -1000, 1000}
		test.That(t, b.IntersectsBox(all, func(string) bool { return true }), test.ShouldBeTrue)
		b.Clear()
		test.That(t, b.IntersectsBox(all, func(string) bool { return true }), test.ShouldBeFalse)
	})
}

func TestIntersectsSphere(t *testing.T) {
	b, _ := threeBoxes(t)
	var visited []string
	b.IntersectsSphere(r3.Vector{X: 10.5, Y: 0.5, Z: 0.5}, 2, func(obj string) bool {
		visited = append(visited, obj)
		return false
	})
	test.That(t, visited, test.ShouldResemble, []string{"B"})
}

func TestRayQueries(t *testing.T) {
	b, _ := threeBoxes(t)
	inf := math.Inf(1)
	origin := r3.Vector{X: 10.5, Y: 0.5, Z: -5}
	dir := r3.Vector{Z: 1}

	t.Run("ray through one leaf reports exactly that leaf", func(t *testing.T) {
		var hits []string
		b.RayIntersections(dir, origin, 0, inf, func(obj string) { hits = append(hits, obj) })
		test.That(t, hits, test.ShouldResemble, []string{"B"})
	})

	t.Run("intersects ray short-circuits", func(t *testing.T) {
		test.That(t, b.IntersectsRay(dir, origin, 0, inf, func(string) bool { return true }), test.ShouldBeTrue)
	})

	t.Run("ray missing everything", func(t *testing.T) {
		test.That(t, b.IntersectsRay(dir, r3.Vector{X: 5.5, Y: 0.5, Z: -5}, 0, inf, func(string) bool { return true }), test.ShouldBeFalse)
	})

	t.Run("far bound excludes the hit", func(t *testing.T) {
		test.That(t, b.IntersectsRay(dir, origin, 0, 4, func(string) bool { return true }), test.ShouldBeFalse)
	})
}

func TestClosestPointToPoint(t *testing.T) {
	b, _ := threeBoxes(t)

	t.Run("point half a unit from a box", func(t *testing.T) {
		d, ok := b.ClosestPointToPoint(r3.Vector{X: 9.5, Y: 0.5, Z: 0.5}, nil)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldAlmostEqual, 0.5)
	})

	t.Run("point at a leaf box center", func(t *testing.T) {
		d, ok := b.ClosestPointToPoint(r3.Vector{X: 10.5, Y: 0.5, Z: 0.5}, nil)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldEqual, 0.0)
	})

	t.Run("equidistant gap picks the true minimum", func(t *testing.T) {
		d, ok := b.ClosestPointToPoint(r3.Vector{X: 5.5, Y: 0.5, Z: 0.5}, nil)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldAlmostEqual, 4.5)
	})

	t.Run("callback refines the leaf distance", func(t *testing.T) {
		centers := map[string]r3.Vector{
			"A": {X: 0.5, Y: 0.5, Z: 0.5},
			"B": {X: 10.5, Y: 0.5, Z: 0.5},
			"C": {X: 20.5, Y: 0.5, Z: 0.5},
		}
		query := r3.Vector{X: 9.5, Y: 0.5, Z: 0.5}
		d, ok := b.ClosestPointToPoint(query, func(obj string) (float64, bool) {
			diff := query.Sub(centers[obj])
			return diff.Norm2(), true
		})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldAlmostEqual, 1.0) // to B's center, not its box
	})

	t.Run("callback can defer to the box bound", func(t *testing.T) {
		d, ok := b.ClosestPointToPoint(r3.Vector{X: 9.5, Y: 0.5, Z: 0.5}, func(string) (float64, bool) {
			return 0, false
		})
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, d, test.ShouldAlmostEqual, 0.5)
	})
}

func TestIsNodeIntersected(t *testing.T) {
	b, nodes := threeBoxes(t)

	t.Run("disjoint leaf has no collisions", func(t *testing.T) {
		hit := b.IsNodeIntersected(nodes["B"], func(string) bool { return true })
		test.That(t, hit, test.ShouldBeFalse)
	})

	t.Run("moved leaf overlapping another is detected", func(t *testing.T) {
		test.That(t, b.Move(nodes["B"], Box{19.5, 20.5, 0, 1, 0, 1}, 0), test.ShouldBeNil)
		var hits []string
		found := b.IsNodeIntersected(nodes["B"], func(obj string) bool {
			hits = append(hits, obj)
			return true
		})
		test.That(t, found, test.ShouldBeTrue)
		test.That(t, hits, test.ShouldResemble, []string{"C"})
	})
}

func TestFrustumCulling(t *testing.T) {
	b := New[int](golog.NewTestLogger(t))
	var objects []int
	var boxes []Box
	for i := 0; i < 25; i++ {
		x := float64(i%5)*4 - 10
		y := float64(i/5)*4 - 10
		objects = append(objects, i)
		boxes = append(boxes, Box{x, x + 1, y, y + 1, 0, 1})
	}
	test.That(t, b.CreateFromArray(objects, boxes, 0, nil), test.ShouldBeNil)

	proj := mgl64.Perspective(mgl64.DegToRad(60), 1, 0.1, 1000)

	t.Run("frustum containing the whole tree reports every leaf fully inside", func(t *testing.T) {
		view := mgl64.LookAtV(mgl64.Vec3{0, 0, 50}, mgl64.Vec3{}, mgl64.Vec3{0, 1, 0})
		seen := 0
		b.FrustumCulling(proj.Mul4(view), DepthNegativeOneToOne, func(n *Node[int], mask uint8) {
			test.That(t, n.IsLeaf(), test.ShouldBeTrue)
			// The root box is fully inside, so the coherency mask must have
			// collapsed to zero before any leaf was reached.
			test.That(t, mask, test.ShouldEqual, uint8(0))
			seen++
		})
		test.That(t, seen, test.ShouldEqual, 25)
	})

	t.Run("camera facing away sees nothing", func(t *testing.T) {
		view := mgl64.LookAtV(mgl64.Vec3{0, 0, 50}, mgl64.Vec3{0, 0, 100}, mgl64.Vec3{0, 1, 0})
		seen := 0
		b.FrustumCulling(proj.Mul4(view), DepthNegativeOneToOne, func(*Node[int], uint8) { seen++ })
		test.That(t, seen, test.ShouldEqual, 0)
	})

	t.Run("partial view culls the rest", func(t *testing.T) {
		// A narrow frustum aimed at the corner cell.
		narrow := mgl64.Perspective(mgl64.DegToRad(5), 1, 0.1, 1000)
		view := mgl64.LookAtV(mgl64.Vec3{-9.5, -9.5, 50}, mgl64.Vec3{-9.5, -9.5, 0}, mgl64.Vec3{0, 1, 0})
		seen := 0
		b.FrustumCulling(narrow.Mul4(view), DepthNegativeOneToOne, func(*Node[int], uint8) { seen++ })
		test.That(t, seen, test.ShouldBeGreaterThan, 0)
		test.That(t, seen, test.ShouldBeLessThan, 25)
	})
}

func TestFrustumCullingLOD(t *testing.T) {
	b := New[string](golog.NewTestLogger(t))
	err := b.InsertRange(
		[]string{"near", "straddle", "far"},
		[]Box{
			{5, 6, 0, 1, 0, 1},
			{9, 11, 0, 1, 0, 1},
			{50, 51, 0, 1, 0, 1},
		},
		nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	// Thresholds at distances 10 and 40 (stored squared). Everything fits in
	// a large ortho volume so only LOD classification varies.
	proj := mgl64.Ortho(-100, 100, -100, 100, -100, 100)
	levels := []float64{100, 1600}
	got := map[string]int{}
	b.FrustumCullingLOD(proj, DepthNegativeOneToOne, r3.Vector{Y: 0.5, Z: 0.5}, levels, func(n *Node[string], level int, mask uint8) {
		got[n.Object()] = level
	})

	test.That(t, len(got), test.ShouldEqual, 3)
	test.That(t, got["near"], test.ShouldEqual, 0)
	test.That(t, got["straddle"], test.ShouldEqual, LevelAmbiguous)
	test.That(t, got["far"], test.ShouldEqual, 2)
}

func TestDeleteViaFacade(t *testing.T) {
	b, nodes := threeBoxes(t)
	_, err := b.Delete(nodes["B"])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Count(), test.ShouldEqual, 2)

	var hits []string
	b.IntersectsBox(Box{-100, 100, -100, 100, -100, 100}, func(obj string) bool {
		hits = append(hits, obj)
		return false
	})
	test.That(t, len(hits), test.ShouldEqual, 2)
	for _, h := range hits {
		test.That(t, h, test.ShouldNotEqual, "B")
	}
}
