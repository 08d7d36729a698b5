package thread

import (
	"slices"

	"forum/internal/models"
)

// Size counts every node of the forest.
func (f Forest) Size() int {
	n := 0
	f.Walk(func(*Node, int) bool {
		n++
		return true
	})
	return n
}

// Depth is the number of levels in the deepest branch; 0 for an empty forest.
func (f Forest) Depth() int {
	deepest := 0
	f.Walk(func(_ *Node, depth int) bool {
		if depth+1 > deepest {
			deepest = depth + 1
		}
		return true
	})
	return deepest
}

// Walk visits nodes depth-first in display order. Returning false from fn
// skips the node's replies.
func (f Forest) Walk(fn func(n *Node, depth int) bool) {
	var visit func(nodes []*Node, depth int)
	visit = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			if fn(n, depth) {
				visit(n.Children, depth+1)
			}
		}
	}
	visit(f, 0)
}

func (f Forest) Find(id string) *Node {
	var found *Node
	f.Walk(func(n *Node, _ int) bool {
		if found != nil {
			return false
		}
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// IDs lists comment ids in display order.
func (f Forest) IDs() []string {
	ids := make([]string, 0)
	f.Walk(func(n *Node, _ int) bool {
		ids = append(ids, n.ID)
		return true
	})
	return ids
}

// Preserve swaps nodes of next for their counterparts in prev wherever the
// comment and its whole subtree are unchanged, so holders of prev nodes keep
// valid references. next is modified in place and returned.
func Preserve(prev, next Forest) Forest {
	if len(prev) == 0 || len(next) == 0 {
		return next
	}
	old := make(map[string]*Node, len(prev))
	prev.Walk(func(n *Node, _ int) bool {
		old[n.ID] = n
		return true
	})

	var keep func(n *Node) *Node
	keep = func(n *Node) *Node {
		for i, ch := range n.Children {
			n.Children[i] = keep(ch)
		}
		o, ok := old[n.ID]
		if !ok || !sameComment(&o.Comment, &n.Comment) || !sameNodes(o.Children, n.Children) {
			return n
		}
		return o
	}
	for i, r := range next {
		next[i] = keep(r)
	}
	return next
}

// Same reports whether two forests share the same root nodes. After
// Preserve this means nothing in the forest changed.
func Same(a, b Forest) bool {
	return sameNodes(a, b)
}

func sameNodes(a, b []*Node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameComment(a, b *models.Comment) bool {
	return a.ID == b.ID &&
		a.TopicID == b.TopicID &&
		a.ParentCommentID == b.ParentCommentID &&
		a.AuthorID == b.AuthorID &&
		a.Body == b.Body &&
		a.Version == b.Version &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		slices.Equal(a.Reactions.Likes, b.Reactions.Likes) &&
		slices.Equal(a.Reactions.Thanks, b.Reactions.Thanks)
}
