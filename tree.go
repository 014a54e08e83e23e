package design

import (
	"fmt"
	"math/bits"
)

// Height is the fixed height of every channel's key-derivation tree. With
// Height == 64 the tree's 2^64 leaves index every possible 64-bit frame
// timestamp. Earlier design notes used Height == 4 for small manual
// walkthroughs; the canonical deployed value is 64.
const Height = 64

// nodeNum identifies a node by its 1-based level-order position in a
// Height-64 tree: root = 1, children of n are 2n and 2n+1, and the leaf for
// timestamp t is 2^64 + t. That numbering needs up to 65 bits (one more
// than a uint64 holds), because a leaf's number is already 2^64 before t is
// even added. Rather than pull in math/big for a single extra bit, nodeNum
// keeps that bit alongside the low 64 bits explicitly. Doubling only ever
// happens on nodes at depth < Height (hi is always false going in), and
// halving only ever needs to absorb hi once before it settles back to
// false, so every operation below is exact.
type nodeNum struct {
	hi bool
	lo uint64
}

func rootNode() nodeNum { return nodeNum{lo: 1} }

// leafNode returns the node number for timestamp t: 2^64 + t.
func leafNode(t uint64) nodeNum { return nodeNum{hi: true, lo: t} }

func (n nodeNum) bitLen() int {
	if n.hi {
		return 65
	}
	return bits.Len64(n.lo)
}

// depth returns bit_length(n) - 1: 0 at the root, Height at a leaf.
func (n nodeNum) depth() int { return n.bitLen() - 1 }

func (n nodeNum) equal(m nodeNum) bool { return n.hi == m.hi && n.lo == m.lo }

// parent returns floor(n/2). n.hi can only be set on a leaf (depth Height),
// and the result of halving a leaf always lands at depth Height-1, so the
// returned node's hi is always false.
func (n nodeNum) parent() nodeNum {
	if n.hi {
		return nodeNum{lo: (n.lo >> 1) | (1 << 63)}
	}
	return nodeNum{lo: n.lo >> 1}
}

// leftChild returns 2n. Only ever called on nodes above leaf depth, so n.hi
// is always false here; the top bit shifted out of lo becomes the new hi.
func (n nodeNum) leftChild() nodeNum {
	return nodeNum{hi: n.lo&(1<<63) != 0, lo: n.lo << 1}
}

// rightChild returns 2n+1.
func (n nodeNum) rightChild() nodeNum {
	c := n.leftChild()
	c.lo++
	return c
}

// next returns n+1, the node immediately to its right at the same depth
// (unless n was the rightmost node of its depth; the minimum-cover automaton
// only reaches that case on its last emitted node and never uses the
// result).
func (n nodeNum) next() nodeNum {
	lo := n.lo + 1
	hi := n.hi
	if lo == 0 {
		hi = true
	}
	return nodeNum{hi: hi, lo: lo}
}

// bitAt returns bit i (0 = least significant) of n's index-within-level.
func (n nodeNum) bitAt(i int) int {
	return int((n.lo >> uint(i)) & 1)
}

// coverOf returns the inclusive [lo, hi] timestamp range covered by a
// node's subtree. At depth d a node covers a span of 2^(Height-d)
// timestamps; for the root (d == 0) that span is 2^64, one more than a
// uint64 can represent, so the formula below is written to lean on Go's
// defined behavior for a full-width shift (shifting by >= the operand's bit
// width yields 0) and for unsigned subtraction underflow (0-1 wraps to
// math.MaxUint64); at d == 0 they together produce exactly (0, 2^64-1).
// The full-width shift also occurs at d == Height, where 1<<64 is 0 and the
// leaf's low 64 bits are left as its index.
func coverOf(n nodeNum) (lo, hi uint64) {
	d := uint(n.depth())
	index := n.lo &^ (uint64(1) << d)
	span := uint64(1) << (64 - d)
	skipped := index << (64 - d)
	return skipped, skipped + span - 1
}

// combinedCoverOf returns the bounding [lo, hi] range across a non-empty
// set of node covers.
func combinedCoverOf(nodes []nodeNum) (lo, hi uint64) {
	lo, hi = coverOf(nodes[0])
	for _, n := range nodes[1:] {
		l, h := coverOf(n)
		if l < lo {
			lo = l
		}
		if h > hi {
			hi = h
		}
	}
	return lo, hi
}

func inRange(lo, hi, start, end uint64) bool { return lo >= start && hi <= end }

// minimumCoverNodes computes the minimal antichain of nodes whose combined
// cover is exactly [start, end], as a two-state (ascending/descending)
// automaton: climb from the start leaf while the parent's cover still fits
// inside [start, end], emitting the highest ancestor that does; then, once
// a step no longer fits, descend greedily down the left spine of the next
// right sibling until a node's cover fits, emit it, and move to its right
// sibling, flipping back to ascending whenever that sibling's own cover
// already fits. The loop ends when the union of emitted nodes equals
// [start, end] exactly, which happens at or before the root is emitted.
func minimumCoverNodes(start, end uint64) ([]nodeNum, error) {
	if start > end {
		return nil, errRange(fmt.Sprintf("start %d exceeds end %d", start, end))
	}

	var nodes []nodeNum
	iter := leafNode(start)
	descending := false

	for {
		if len(nodes) > 0 {
			lo, hi := combinedCoverOf(nodes)
			if lo == start && hi == end {
				break
			}
		}

		if !descending {
			parent := iter
			for parent.depth() > 0 {
				p := parent.parent()
				plo, phi := coverOf(p)
				if !inRange(plo, phi, start, end) {
					break
				}
				parent = p
			}
			nodes = append(nodes, parent)
			if parent.depth() == 0 {
				break
			}
			iter = parent.next()
			lo, hi := coverOf(iter)
			if !inRange(lo, hi, start, end) {
				descending = true
			}
		} else {
			iter = iter.leftChild()
			for {
				lo, hi := coverOf(iter)
				if inRange(lo, hi, start, end) {
					break
				}
				iter = iter.leftChild()
			}
			nodes = append(nodes, iter)
			iter = iter.next()
			lo, hi := coverOf(iter)
			descending = !inRange(lo, hi, start, end)
		}
	}

	return nodes, nil
}

// ChannelTreeNode identifies a node of a channel's key-derivation tree
// together with its derived key. NodeNum carries the node's level-order
// number truncated to its low 64 bits; Depth resolves that truncation for
// nodes at the maximum depth (a leaf's true number is 2^64 + NodeNum, one
// bit wider than the field itself, see DESIGN.md).
type ChannelTreeNode struct {
	NodeNum uint64
	Depth   uint8
	Key     NodeKey
}

func (n ChannelTreeNode) toInternal() nodeNum {
	return nodeNum{hi: int(n.Depth) == Height, lo: n.NodeNum}
}

func fromInternal(n nodeNum) ChannelTreeNode {
	return ChannelTreeNode{NodeNum: n.lo, Depth: uint8(n.depth())}
}

// CoverOf returns the inclusive [lo, hi] timestamp range a tree node's
// subtree covers.
func CoverOf(node ChannelTreeNode) (lo, hi uint64) {
	return coverOf(node.toInternal())
}

// CombinedCover returns the bounding [lo, hi] range across a non-empty set
// of tree nodes.
func CombinedCover(nodes []ChannelTreeNode) (lo, hi uint64, err error) {
	if len(nodes) == 0 {
		return 0, 0, errRange("cannot determine cover for an empty node list")
	}
	internal := make([]nodeNum, len(nodes))
	for i, n := range nodes {
		internal[i] = n.toInternal()
	}
	lo, hi = combinedCoverOf(internal)
	return lo, hi, nil
}

// MinimumCover computes the minimal set of tree nodes whose combined cover
// is exactly [start, end]. The returned nodes carry no keys; call KeyAt (or
// derive them while building a subscription) to fill Key in.
func MinimumCover(start, end uint64) ([]ChannelTreeNode, error) {
	internal, err := minimumCoverNodes(start, end)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelTreeNode, len(internal))
	for i, n := range internal {
		out[i] = fromInternal(n)
	}
	return out, nil
}

// KeyForTimestampFromCover finds the unique node in cover whose range
// contains t and walks the remaining depth down to the leaf for t,
// returning its key. It returns a NotCoveredError if no node in cover
// contains t.
func KeyForTimestampFromCover(cover []ChannelTreeNode, t uint64) (NodeKey, error) {
	for _, node := range cover {
		lo, hi := CoverOf(node)
		if t < lo || t > hi {
			continue
		}
		key := node.Key
		for i := Height - int(node.Depth) - 1; i >= 0; i-- {
			bit := (t >> uint(i)) & 1
			if bit == 0 {
				key = prfLeft(key)
			} else {
				key = prfRight(key)
			}
		}
		return key, nil
	}
	return NodeKey{}, errNotCovered(fmt.Sprintf("timestamp %d is not contained in the given cover", t))
}

// ChannelKeyDerivation derives node keys for a single channel's tree from
// its root key.
type ChannelKeyDerivation struct {
	Root NodeKey
}

// NewChannelKeyDerivation builds a ChannelKeyDerivation for the given
// channel root key.
func NewChannelKeyDerivation(root NodeKey) *ChannelKeyDerivation {
	return &ChannelKeyDerivation{Root: root}
}

// KeyAt derives the key held at an arbitrary node of this channel's tree by
// walking down from the root, applying prfLeft/prfRight for each bit of the
// node's path.
func (d *ChannelKeyDerivation) KeyAt(node ChannelTreeNode) NodeKey {
	n := node.toInternal()
	depth := n.depth()
	key := d.Root
	for i := depth - 1; i >= 0; i-- {
		if n.bitAt(i) == 0 {
			key = prfLeft(key)
		} else {
			key = prfRight(key)
		}
	}
	return key
}

// LeafKey derives the key for the leaf of timestamp t.
func (d *ChannelKeyDerivation) LeafKey(t uint64) NodeKey {
	return d.KeyAt(fromInternal(leafNode(t)))
}
