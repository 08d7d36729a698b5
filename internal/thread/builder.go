// Package thread turns the flat comment records of a topic into an ordered
// forest of replies.
package thread

import (
	"sort"

	"forum/internal/models"
)

// Node is a comment together with its direct replies, oldest first.
type Node struct {
	models.Comment
	Children []*Node `json:"children"`
}

// Forest is the ordered list of root-level comments of a topic.
type Forest []*Node

// Build derives the reply forest from a full snapshot of a topic's comments.
//
// Every record with a non-empty id appears exactly once in the result. A
// comment whose parent is missing, belongs to another topic, or is the
// comment itself becomes a root. Parent chains that loop are cut at their
// oldest member, which becomes a root. Roots and children are ordered by
// (CreatedAt, ID). The input order never affects the output.
func Build(comments []models.Comment) Forest {
	nodes := make(map[string]*Node, len(comments))
	for i := range comments {
		c := comments[i]
		if c.ID == "" {
			continue
		}
		if prev, ok := nodes[c.ID]; ok && !supersedes(&c, &prev.Comment) {
			continue
		}
		nodes[c.ID] = &Node{Comment: c}
	}
	if len(nodes) == 0 {
		return Forest{}
	}

	order := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool { return less(&order[i].Comment, &order[j].Comment) })

	parent := make(map[string]string, len(order))
	for _, n := range order {
		pid := n.ParentCommentID
		if pid == "" || pid == n.ID {
			continue
		}
		p, ok := nodes[pid]
		if !ok || p.TopicID != n.TopicID {
			continue
		}
		parent[n.ID] = pid
	}
	breakCycles(order, nodes, parent)

	// order is already sorted, so appending in order keeps every child list
	// and the root list sorted.
	roots := make(Forest, 0)
	for _, n := range order {
		if pid, ok := parent[n.ID]; ok {
			p := nodes[pid]
			p.Children = append(p.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

const (
	unvisited = iota
	onPath
	done
)

// breakCycles removes one parent edge from every cycle of the parent graph.
// Each node has at most one parent, so each walk either ends at a root, at an
// already settled node, or closes a loop on its own path.
func breakCycles(order []*Node, nodes map[string]*Node, parent map[string]string) {
	state := make(map[string]int, len(order))
	for _, start := range order {
		if state[start.ID] == done {
			continue
		}
		var path []string
		pos := make(map[string]int)
		cur := start.ID
		for {
			s := state[cur]
			if s == done {
				break
			}
			if s == onPath {
				oldest := path[pos[cur]]
				for _, id := range path[pos[cur]+1:] {
					if less(&nodes[id].Comment, &nodes[oldest].Comment) {
						oldest = id
					}
				}
				delete(parent, oldest)
				break
			}
			state[cur] = onPath
			pos[cur] = len(path)
			path = append(path, cur)
			next, ok := parent[cur]
			if !ok {
				break
			}
			cur = next
		}
		for _, id := range path {
			state[id] = done
		}
	}
}

func less(a, b *models.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// supersedes reports whether a should replace b when both carry the same id.
func supersedes(a, b *models.Comment) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if a.Body != b.Body {
		return a.Body > b.Body
	}
	return a.ParentCommentID > b.ParentCommentID
}
