// Package dedup links near-identical coverage of the same event and decides
// which copy is presented as the primary source.
package dedup

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

const logFieldArticle = "article_id"

// Kind is the outcome of a duplicate check.
type Kind int

// Verdict kinds.
const (
	// Unique means no stored article is close enough to be the same event.
	Unique Kind = iota
	// Duplicate means the article is a secondary copy of PrimaryID.
	Duplicate
	// Supersedes means the article becomes the primary of the matched links.
	Supersedes
)

func (k Kind) String() string {
	switch k {
	case Duplicate:
		return "duplicate"
	case Supersedes:
		return "supersedes"
	default:
		return "unique"
	}
}

// Verdict describes how a new article relates to stored coverage.
type Verdict struct {
	Kind Kind
	// PrimaryID is set for Duplicate.
	PrimaryID domain.ArticleID
	// Replaced lists the former primaries for Supersedes, sorted.
	Replaced []domain.ArticleID
}

// ArticleLookup resolves stored article metadata.
type ArticleLookup interface {
	Article(id domain.ArticleID) (domain.ArticleVector, bool)
}

// Config configures a Detector.
type Config struct {
	// DuplicateRadius is the largest distance still treated as the same event.
	DuplicateRadius float64
	// PrimaryVendors are official sources, matched case-insensitively.
	PrimaryVendors []string
}

// Detector owns the duplicate link registry.
type Detector struct {
	radius   float64
	official map[string]struct{}
	lookup   ArticleLookup
	logger   *zerolog.Logger

	mu        sync.RWMutex
	links     map[domain.ArticleID]domain.DuplicateLink
	primaryOf map[domain.ArticleID]domain.ArticleID
}

// New creates a Detector. lookup resolves primaries that are not among the neighbors.
func New(cfg Config, lookup ArticleLookup, logger *zerolog.Logger) *Detector {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	official := make(map[string]struct{}, len(cfg.PrimaryVendors))
	for _, v := range cfg.PrimaryVendors {
		if f := foldVendor(v); f != "" {
			official[f] = struct{}{}
		}
	}

	return &Detector{
		radius:    cfg.DuplicateRadius,
		official:  official,
		lookup:    lookup,
		logger:    logger,
		links:     make(map[domain.ArticleID]domain.DuplicateLink),
		primaryOf: make(map[domain.ArticleID]domain.ArticleID),
	}
}

func foldVendor(v string) string {
	return cases.Fold().String(strings.TrimSpace(v))
}

// IsOfficial reports whether vendor is a configured primary source.
func (d *Detector) IsOfficial(vendor string) bool {
	_, ok := d.official[foldVendor(vendor)]

	return ok
}

// Check computes the verdict for article without changing any link.
func (d *Detector) Check(article domain.ArticleVector, neighbors []topology.Neighbor) Verdict {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, _ := d.decideLocked(article, neighbors)

	return v
}

// Resolve computes the verdict and applies it to the registry in one step.
// It returns the links that were created or changed.
func (d *Detector) Resolve(article domain.ArticleVector, neighbors []topology.Neighbor) (Verdict, []domain.DuplicateLink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, roots := d.decideLocked(article, neighbors)
	if len(roots) == 0 {
		return v, nil
	}

	var changed []domain.DuplicateLink

	switch v.Kind {
	case Duplicate:
		changed = []domain.DuplicateLink{d.collapseLocked(v.PrimaryID, append(roots, article.ID))}
	case Supersedes:
		changed = []domain.DuplicateLink{d.collapseLocked(article.ID, roots)}

		d.logger.Info().
			Str(logFieldArticle, string(article.ID)).
			Strs("replaced", idsToStrings(v.Replaced)).
			Msg("primary source swapped")
	case Unique:
	}

	return v, changed
}

// decideLocked returns the verdict and the link primaries of every match.
func (d *Detector) decideLocked(article domain.ArticleVector, neighbors []topology.Neighbor) (Verdict, []domain.ArticleID) {
	if p, ok := d.primaryOf[article.ID]; ok {
		return Verdict{Kind: Duplicate, PrimaryID: p}, nil
	}

	known := make(map[domain.ArticleID]domain.ArticleVector)
	rootSet := make(map[domain.ArticleID]struct{})

	for _, n := range neighbors {
		if n.Article.ID == article.ID || n.Distance > d.radius {
			continue
		}

		known[n.Article.ID] = n.Article
		root := n.Article.ID

		if p, ok := d.primaryOf[root]; ok {
			root = p
		}

		rootSet[root] = struct{}{}
	}

	if len(rootSet) == 0 {
		return Verdict{Kind: Unique}, nil
	}

	roots := make([]domain.ArticleID, 0, len(rootSet))
	for id := range rootSet {
		roots = append(roots, id)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	best := article
	for _, id := range roots {
		cand, ok := known[id]
		if !ok && d.lookup != nil {
			cand, ok = d.lookup.Article(id)
		}

		if !ok {
			cand = domain.ArticleVector{ID: id}
		}

		if d.preferred(cand, best) {
			best = cand
		}
	}

	if best.ID == article.ID {
		return Verdict{Kind: Supersedes, Replaced: roots}, roots
	}

	return Verdict{Kind: Duplicate, PrimaryID: best.ID}, roots
}

// preferred orders primary candidates: official vendor, then earlier collection, then id.
func (d *Detector) preferred(a, b domain.ArticleVector) bool {
	ao, bo := d.IsOfficial(a.Vendor), d.IsOfficial(b.Vendor)
	if ao != bo {
		return ao
	}

	return domain.Earlier(a, b)
}

// collapseLocked folds members and their links into the link of primary.
func (d *Detector) collapseLocked(primary domain.ArticleID, members []domain.ArticleID) domain.DuplicateLink {
	link, ok := d.links[primary]
	if !ok {
		link = domain.NewDuplicateLink(primary)
	}

	delete(d.primaryOf, primary)

	for _, id := range members {
		if id == primary {
			continue
		}

		if old, ok := d.links[id]; ok {
			for sec := range old.SecondaryIDs {
				if sec != primary {
					link.SecondaryIDs[sec] = struct{}{}
					d.primaryOf[sec] = primary
				}
			}

			delete(d.links, id)
		}

		link.SecondaryIDs[id] = struct{}{}
		d.primaryOf[id] = primary
	}

	delete(link.SecondaryIDs, primary)
	d.links[primary] = link

	return link.Clone()
}

// IsSecondary reports whether id is a non-primary copy.
func (d *Detector) IsSecondary(id domain.ArticleID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.primaryOf[id]

	return ok
}

// PrimaryOf returns the primary of id, or id itself when it is not a secondary.
func (d *Detector) PrimaryOf(id domain.ArticleID) domain.ArticleID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if p, ok := d.primaryOf[id]; ok {
		return p
	}

	return id
}

// Links returns copies of all links sorted by primary id.
func (d *Detector) Links() []domain.DuplicateLink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.DuplicateLink, 0, len(d.links))
	for _, l := range d.links {
		out = append(out, l.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PrimaryID < out[j].PrimaryID })

	return out
}

// Restore rebuilds the registry from persisted links. Links whose primary is
// a secondary elsewhere are merged into that link.
func (d *Detector) Restore(links []domain.DuplicateLink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.links = make(map[domain.ArticleID]domain.DuplicateLink, len(links))
	d.primaryOf = make(map[domain.ArticleID]domain.ArticleID)

	sorted := append([]domain.DuplicateLink(nil), links...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PrimaryID < sorted[j].PrimaryID })

	for _, l := range sorted {
		primary := l.PrimaryID
		if p, ok := d.primaryOf[primary]; ok {
			primary = p
		}

		members := append([]domain.ArticleID{l.PrimaryID}, l.Secondaries()...)
		d.collapseLocked(primary, members)
	}
}

func idsToStrings(ids []domain.ArticleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}

	return out
}
