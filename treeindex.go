package pathoram

// Pure tree-index arithmetic. Nodes are numbered breadth-first starting
// at 0 (root = node 0); a node v has children 2v+1 and 2v+2. Leaf ℓ in
// [0, numLeaves) corresponds to node numLeaves-1+ℓ. None of these
// functions take a secret input: the path currently being walked is
// public by the ORAM's threat model, only the mapping from address to
// leaf needs hiding, and that mapping never flows through this file.

// leafNode returns the bucket-array index of leaf.
func leafNode(numLeaves, leaf int) int {
	return numLeaves - 1 + leaf
}

// parentNode returns the parent of node. The root's parent is undefined
// (callers stop at the root).
func parentNode(node int) int {
	return (node - 1) / 2
}

// path returns the bucket indices from leaf (path[0]) to root
// (path[height]), inclusive — height+1 entries.
func path(height, numLeaves, leaf int) []int {
	p := make([]int, height+1)
	node := leafNode(numLeaves, leaf)
	for i := 0; i <= height; i++ {
		p[i] = node
		if node == 0 {
			break
		}
		node = parentNode(node)
	}
	return p
}

// canReside reports whether a block assigned to blockLeaf may live in
// the bucket at bucketNode — equivalently, whether bucketNode is an
// ancestor of blockLeaf's leaf node (including the leaf node itself).
func canReside(numLeaves, blockLeaf, bucketNode int) bool {
	node := leafNode(numLeaves, blockLeaf)
	for {
		if node == bucketNode {
			return true
		}
		if node == 0 {
			return false
		}
		node = parentNode(node)
	}
}
