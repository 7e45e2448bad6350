package bvh

// Node is a node of the hierarchy, generic over the caller's leaf payload. A
// node is either a leaf carrying exactly one payload and its fattened box, or
// an internal node carrying exactly two children and the union of their boxes.
// The tree never inspects or mutates the payload.
type Node[T any] struct {
	// Box bounds everything beneath this node. For leaves it is the payload's
	// box inflated by the insertion margin; for internal nodes it contains the
	// union of both children's boxes.
	Box Box

	parent *Node[T]
	left   *Node[T]
	right  *Node[T]
	object T
}

// IsLeaf reports whether the node carries a payload rather than children.
func (n *Node[T]) IsLeaf() bool {
	return n.left == nil
}

// Object returns the payload stored at a leaf. For internal nodes it returns
// the zero value.
func (n *Node[T]) Object() T {
	return n.object
}

// Parent returns the node's parent, or nil for the root.
func (n *Node[T]) Parent() *Node[T] {
	return n.parent
}

// Left returns the left child, or nil for leaves.
func (n *Node[T]) Left() *Node[T] {
	return n.left
}

// Right returns the right child, or nil for leaves.
func (n *Node[T]) Right() *Node[T] {
	return n.right
}

// sibling returns the parent's other child. It returns nil both for the root
// and for the corrupt case of an empty opposite slot; callers that cannot
// tolerate the latter must check for it explicitly.
func (n *Node[T]) sibling() *Node[T] {
	p := n.parent
	if p == nil {
		return nil
	}
	if p.left == n {
		return p.right
	}
	return p.left
}

// replaceChild swaps old for repl in the parent's child slots and fixes the
// back-reference.
func (n *Node[T]) replaceChild(old, repl *Node[T]) {
	if n.left == old {
		n.left = repl
	} else {
		n.right = repl
	}
	repl.parent = n
}
