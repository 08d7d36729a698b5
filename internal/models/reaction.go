package models

import (
	"fmt"
	"sort"
)

type ReactionKind string

const (
	ReactionLike  ReactionKind = "like"
	ReactionThank ReactionKind = "thank"
)

func ParseReactionKind(s string) (ReactionKind, error) {
	switch k := ReactionKind(s); k {
	case ReactionLike, ReactionThank:
		return k, nil
	}
	return "", fmt.Errorf("unknown reaction kind %q", s)
}

// Reactions holds the ReactionSet of one entity: the users who applied each
// kind. Membership, not a counter, so a retried toggle cannot double count.
type Reactions struct {
	Likes  []string `json:"likes" gorm:"serializer:json"`
	Thanks []string `json:"thanks" gorm:"serializer:json"`
}

func (r *Reactions) set(kind ReactionKind) (*[]string, error) {
	switch kind {
	case ReactionLike:
		return &r.Likes, nil
	case ReactionThank:
		return &r.Thanks, nil
	}
	return nil, fmt.Errorf("unknown reaction kind %q", kind)
}

// Has expects normalized sets, which is how both stores write them.
func (r Reactions) Has(kind ReactionKind, userID string) bool {
	s, err := r.set(kind)
	if err != nil {
		return false
	}
	_, found := search(*s, userID)
	return found
}

func search(set []string, userID string) (int, bool) {
	i := sort.SearchStrings(set, userID)
	return i, i < len(set) && set[i] == userID
}

func (r Reactions) Count(kind ReactionKind) int {
	s, err := r.set(kind)
	if err != nil {
		return 0
	}
	return len(*s)
}

// Toggle flips userID's membership for kind and returns the new membership.
func (r *Reactions) Toggle(kind ReactionKind, userID string) (bool, error) {
	s, err := r.set(kind)
	if err != nil {
		return false, err
	}
	if userID == "" {
		return false, fmt.Errorf("empty user id")
	}
	set := normalize(*s)
	i, present := search(set, userID)
	if present {
		*s = append(set[:i], set[i+1:]...)
		return false, nil
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = userID
	*s = set
	return true, nil
}

// Normalize dedupes and sorts both sets. Data written by older clients may
// carry duplicates.
func (r *Reactions) Normalize() {
	r.Likes = normalize(r.Likes)
	r.Thanks = normalize(r.Thanks)
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, u := range in {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// EntityRef points at a topic (CommentID empty) or at one of its comments.
type EntityRef struct {
	TopicID   string `json:"topic_id"`
	CommentID string `json:"comment_id,omitempty"`
}

func (e EntityRef) IsTopic() bool { return e.CommentID == "" }

func (e EntityRef) String() string {
	if e.IsTopic() {
		return "topic:" + e.TopicID
	}
	return "comment:" + e.TopicID + "/" + e.CommentID
}
