package bvh

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Builder owns the tree root and all mutation algorithms: bulk construction,
// single insertion with best-sibling search, deletion, move with
// reinsert-on-outgrow, upward refit and local rotation repair.
//
// A Builder assumes exclusive access for the duration of every call; the
// caller owns serialization.
type Builder[T any] struct {
	root   *Node[T]
	count  int
	logger golog.Logger
}

// NewBuilder returns an empty builder.
func NewBuilder[T any](logger golog.Logger) *Builder[T] {
	return &Builder[T]{logger: logger}
}

// Root returns the root node, nil when the tree is empty.
func (b *Builder[T]) Root() *Node[T] {
	return b.root
}

// Count returns the number of leaves in the tree.
func (b *Builder[T]) Count() int {
	return b.count
}

// Clear discards the whole tree. No per-node visitation is performed.
func (b *Builder[T]) Clear() {
	b.root = nil
	b.count = 0
}

// CreateFromArray discards any existing tree and bulk-builds a balanced tree
// from parallel slices of objects and their boxes. The split axis at each
// level is the longest axis of the centroid bounds, the split position its
// midpoint; degenerate partitions fall back to an index midpoint so
// construction always terminates, coincident boxes included. The margin is
// applied once per leaf at creation and onLeaf, when non-nil, is invoked
// exactly once per created leaf in construction order.
func (b *Builder[T]) CreateFromArray(objects []T, boxes []Box, margin float64, onLeaf func(*Node[T])) error {
	if len(objects) != len(boxes) {
		return newMismatchedLengthsError(len(objects), len(boxes))
	}
	b.Clear()
	if len(objects) == 0 {
		return nil
	}

	// Build over private copies so the caller's slices survive partitioning.
	objs := make([]T, len(objects))
	copy(objs, objects)
	bxs := make([]Box, len(boxes))
	copy(bxs, boxes)

	b.root = b.buildRange(objs, bxs, margin, onLeaf)
	b.count = len(objects)
	if b.logger != nil {
		b.logger.Debugf("bulk-built tree with %d leaves", b.count)
	}
	return nil
}

// buildRange recursively builds the subtree for one index range, partitioning
// the slices in place.
func (b *Builder[T]) buildRange(objects []T, boxes []Box, margin float64, onLeaf func(*Node[T])) *Node[T] {
	if len(objects) == 1 {
		leaf := &Node[T]{Box: boxes[0].Expanded(margin), object: objects[0]}
		if onLeaf != nil {
			onLeaf(leaf)
		}
		return leaf
	}

	// Bounds of the box centroids over this range decide the split.
	centroids := emptyBox()
	for i := range boxes {
		c := boxes[i].Center()
		centroids = Union(centroids, Box{c.X, c.X, c.Y, c.Y, c.Z, c.Z})
	}
	axis := LongestAxis(centroids)
	split := (centroids[2*axis] + centroids[2*axis+1]) * 0.5

	// Hoare-style two-pointer partition by centroid position.
	i, j := 0, len(objects)-1
	for i <= j {
		if (boxes[i][2*axis]+boxes[i][2*axis+1])*0.5 < split {
			i++
		} else {
			objects[i], objects[j] = objects[j], objects[i]
			boxes[i], boxes[j] = boxes[j], boxes[i]
			j--
		}
	}
	if i == 0 || i == len(objects) {
		// All centroids landed on one side; split the range in half instead.
		i = len(objects) / 2
	}

	left := b.buildRange(objects[:i], boxes[:i], margin, onLeaf)
	right := b.buildRange(objects[i:], boxes[i:], margin, onLeaf)
	node := &Node[T]{left: left, right: right}
	left.parent = node
	right.parent = node
	node.Box = Union(left.Box, right.Box)
	return node
}

// Insert validates the box, fattens it by margin, creates a leaf for the
// object and attaches it next to the sibling that minimizes total surface-area
// growth. It returns the created leaf.
func (b *Builder[T]) Insert(object T, box Box, margin float64) (*Node[T], error) {
	if err := box.Check(); err != nil {
		return nil, err
	}
	return b.insertValidated(object, box, margin), nil
}

// InsertRange performs repeated insertion. margins may be nil (no fattening),
// hold a single value broadcast to every item, or hold one value per item.
// Every box is validated up front so invalid input leaves the tree untouched.
func (b *Builder[T]) InsertRange(objects []T, boxes []Box, margins []float64, onLeaf func(*Node[T])) error {
	if len(objects) != len(boxes) {
		return newMismatchedLengthsError(len(objects), len(boxes))
	}
	if len(margins) > 1 && len(margins) != len(objects) {
		return errors.Errorf("mismatched lengths: %d margins for %d objects", len(margins), len(objects))
	}
	var err error
	for i := range boxes {
		if e := boxes[i].Check(); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "box %d", i))
		}
	}
	if err != nil {
		return err
	}
	for i := range objects {
		margin := 0.0
		switch len(margins) {
		case 0:
		case 1:
			margin = margins[0]
		default:
			margin = margins[i]
		}
		leaf := b.insertValidated(objects[i], boxes[i], margin)
		if onLeaf != nil {
			onLeaf(leaf)
		}
	}
	return nil
}

func (b *Builder[T]) insertValidated(object T, box Box, margin float64) *Node[T] {
	leaf := &Node[T]{Box: box.Expanded(margin), object: object}
	if b.root == nil {
		b.root = leaf
	} else {
		b.insertLeaf(leaf, nil)
	}
	b.count++
	return leaf
}

// Move reindexes a leaf after its object moved to box. Small displacements are
// absorbed by the fattened leaf box and cost nothing; a leaf that outgrew its
// stored box but still fits its parent is updated in place; everything else is
// deleted and reinserted at the best new sibling, reusing the internal node
// collapsed by the deletion as the shell for reattachment.
func (b *Builder[T]) Move(node *Node[T], box Box, margin float64) error {
	if err := box.Check(); err != nil {
		return err
	}
	if node.Box.Contains(box) {
		return nil
	}
	node.Box = box.Expanded(margin)
	if node.parent == nil || node.parent.Box.Contains(node.Box) {
		return nil
	}
	shell, err := b.Delete(node)
	if err != nil {
		return err
	}
	b.count++ // reinsertion below restores the leaf Delete accounted for
	b.insertLeaf(node, shell)
	return nil
}

// Delete removes a leaf. Deleting the root clears the tree and returns nil.
// Otherwise the leaf's sibling is promoted into the grandparent's slot and the
// now-childless parent is returned so callers (Move) can reuse it as the shell
// for reinsertion. A parent with an empty opposite child slot means the tree
// is structurally corrupt; that is a hard failure, not a silent no-op.
func (b *Builder[T]) Delete(node *Node[T]) (*Node[T], error) {
	if node == b.root {
		b.Clear()
		return nil, nil
	}
	sibling := node.sibling()
	if sibling == nil {
		err := newTreeCorruptionError("parent has an empty opposite child slot")
		if b.logger != nil {
			b.logger.Error(err)
		}
		return nil, err
	}

	parent := node.parent
	grandparent := parent.parent
	if grandparent == nil {
		b.root = sibling
		sibling.parent = nil
	} else {
		grandparent.replaceChild(parent, sibling)
		b.refit(grandparent)
	}

	node.parent = nil
	parent.parent, parent.left, parent.right = nil, nil, nil
	b.count--
	return parent, nil
}

// insertLeaf attaches leaf next to the best sibling found by branch-and-bound
// surface-area search. shell, when non-nil, is reused as the new internal
// parent instead of allocating one. Ancestor boxes are re-unioned all the way
// to the root with one local rotation attempt per level.
func (b *Builder[T]) insertLeaf(leaf, shell *Node[T]) {
	sibling := b.findBestSibling(leaf.Box)
	oldParent := sibling.parent

	newParent := shell
	if newParent == nil {
		newParent = &Node[T]{}
	}
	newParent.left = sibling
	newParent.right = leaf
	newParent.Box = Union(sibling.Box, leaf.Box)
	newParent.parent = oldParent

	if oldParent == nil {
		b.root = newParent
	} else {
		oldParent.replaceChild(sibling, newParent)
	}
	sibling.parent = newParent
	leaf.parent = newParent

	for n := oldParent; n != nil; n = n.parent {
		n.Box.SetUnion(n.left.Box, n.right.Box)
		b.tryRotation(n)
	}
}

// findBestSibling minimizes direct cost (area of the union of the new leaf box
// with the candidate's box) plus inherited cost (the growth every ancestor
// box suffers on the way down). A subtree is explored only if even its best
// possible cost could still beat the current best.
func (b *Builder[T]) findBestSibling(leafBox Box) *Node[T] {
	leafArea := leafBox.Area()
	best := b.root
	bestCost := math.Inf(1)

	var descend func(n *Node[T], inherited float64)
	descend = func(n *Node[T], inherited float64) {
		direct := AreaOfUnion(leafBox, n.Box)
		if cost := direct + inherited; cost < bestCost {
			best, bestCost = n, cost
		}
		if n.IsLeaf() {
			return
		}
		childInherited := inherited + direct - n.Box.Area()
		if leafArea+childInherited < bestCost {
			descend(n.left, childInherited)
			descend(n.right, childInherited)
		}
	}
	descend(b.root, 0)
	return best
}

// tryRotation considers swapping one child of n with one child of n's sibling
// (four candidate swaps) and performs the best strictly area-reducing one.
// Both subtree boxes are re-unioned after a swap; the shared parent's box is
// unaffected since the same four grandchildren remain beneath it.
func (b *Builder[T]) tryRotation(n *Node[T]) {
	s := n.sibling()
	if s == nil || n.IsLeaf() || s.IsLeaf() {
		return
	}

	current := n.Box.Area() + s.Box.Area()
	best := current
	var bestNC, bestSC *Node[T]
	for _, nc := range [2]*Node[T]{n.left, n.right} {
		nKeep := n.left
		if nc == n.left {
			nKeep = n.right
		}
		for _, sc := range [2]*Node[T]{s.left, s.right} {
			sKeep := s.left
			if sc == s.left {
				sKeep = s.right
			}
			total := AreaOfUnion(nKeep.Box, sc.Box) + AreaOfUnion(sKeep.Box, nc.Box)
			if total < best {
				best = total
				bestNC, bestSC = nc, sc
			}
		}
	}
	if bestNC == nil {
		return
	}

	n.replaceChild(bestNC, bestSC)
	s.replaceChild(bestSC, bestNC)
	n.Box.SetUnion(n.left.Box, n.right.Box)
	s.Box.SetUnion(s.left.Box, s.right.Box)
}

// refit recomputes ancestor boxes upward from node, stopping at the first
// ancestor whose box does not change.
func (b *Builder[T]) refit(node *Node[T]) {
	for n := node; n != nil; n = n.parent {
		if !n.Box.SetUnion(n.left.Box, n.right.Box) {
			return
		}
	}
}
