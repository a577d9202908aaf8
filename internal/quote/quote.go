// Package quote bounds and unwinds chains of quoted posts.
//
// Nest and Walk are independent loops over the same chain. For any chain
// and depth limit D, len(Walk(root, D)) == Depth(Nest(root, D, build)) <= D.
package quote

import (
	"unfurl/internal/media"
	"unfurl/internal/social"
)

// DefaultMaxDepth is the number of quote levels followed below a root post.
const DefaultMaxDepth = 10

// Nest builds the normalized tree for root. The node at depth d gets a
// Quoted child only while d < maxDepth; deeper quotes are cut off silently.
func Nest(root *social.Post, maxDepth int, build func(*social.Post) *media.PostNode) *media.PostNode {
	if root == nil {
		return nil
	}

	top := build(root)
	node, post := top, root
	for depth := 0; depth < maxDepth && node != nil && post.Quote != nil; depth++ {
		child := build(post.Quote)
		node.Quoted = child
		node, post = child, post.Quote
	}
	return top
}

// Walk returns the quoted posts below root in discovery order, root excluded,
// stopping after maxDepth posts.
func Walk(root *social.Post, maxDepth int) []*social.Post {
	var chain []*social.Post
	for p := root; p != nil && p.Quote != nil && len(chain) < maxDepth; p = p.Quote {
		chain = append(chain, p.Quote)
	}
	return chain
}

// Depth counts the Quoted edges below node.
func Depth(node *media.PostNode) int {
	n := 0
	for ; node != nil && node.Quoted != nil; node = node.Quoted {
		n++
	}
	return n
}
