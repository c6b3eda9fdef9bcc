package domain

import "sort"

// DuplicateLink groups near-identical coverage of one event under its primary source.
type DuplicateLink struct {
	PrimaryID    ArticleID
	SecondaryIDs map[ArticleID]struct{}
}

// NewDuplicateLink returns an empty link for primary.
func NewDuplicateLink(primary ArticleID) DuplicateLink {
	return DuplicateLink{PrimaryID: primary, SecondaryIDs: make(map[ArticleID]struct{})}
}

// Secondaries returns the secondary ids in sorted order.
func (l DuplicateLink) Secondaries() []ArticleID {
	out := make([]ArticleID, 0, len(l.SecondaryIDs))
	for id := range l.SecondaryIDs {
		out = append(out, id)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Clone deep-copies the secondary set.
func (l DuplicateLink) Clone() DuplicateLink {
	out := NewDuplicateLink(l.PrimaryID)
	for id := range l.SecondaryIDs {
		out.SecondaryIDs[id] = struct{}{}
	}

	return out
}
