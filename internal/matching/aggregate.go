package matching

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/catalog"
	"github.com/kozaktomas/pagefinder/internal/homography"
	"github.com/kozaktomas/pagefinder/internal/index"
)

// MatchRef identifies the query and reference feature behind a correspondence.
type MatchRef struct {
	Query int
	Ref   int
}

// CorrespondenceMap holds the correspondences that point at one page.
// Pairs and Matches are parallel slices in query order.
type CorrespondenceMap struct {
	PageID  int
	Pairs   []homography.Pair
	Matches []MatchRef
}

// Len returns the number of correspondences.
func (m CorrespondenceMap) Len() int { return len(m.Pairs) }

// Transform maps detector coordinates into the frame coordinates the
// homography is estimated in, e.g. to undo lens distortion.
type Transform func(r2.Vec) r2.Vec

// Aggregate groups match records by the page of their reference feature.
// The result has one map per catalog page in catalog order, including pages
// without correspondences. A query contributes at most one correspondence
// per page, taken from its best-ranked record on that page.
func Aggregate(cat *catalog.Catalog, queries []QueryFeature, records [][]index.MatchRecord, transform Transform) []CorrespondenceMap {
	pages := cat.PageIDs()
	maps := make([]CorrespondenceMap, len(pages))
	for i, id := range pages {
		maps[i].PageID = id
	}

	// seen[p] == qi+1 when query qi already contributed to page p
	seen := make([]int, len(pages))
	for qi, recs := range records {
		pos := queries[qi].Pos
		if transform != nil {
			pos = transform(pos)
		}
		for _, rec := range recs {
			ref := cat.Feature(rec.Ref)
			p, ok := cat.PageIndex(ref.PageID)
			if !ok || seen[p] == qi+1 {
				continue
			}
			seen[p] = qi + 1
			maps[p].Pairs = append(maps[p].Pairs, homography.Pair{Ref: ref.Pos, Frame: pos})
			maps[p].Matches = append(maps[p].Matches, MatchRef{Query: rec.Query, Ref: rec.Ref})
		}
	}
	return maps
}
