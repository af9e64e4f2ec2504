package engine

import (
	"github.com/scout-progress/internal/domain"
)

// Badge thresholds in percent
const (
	goldThreshold   = 100.0
	silverThreshold = 70.0
	bronzeThreshold = 30.0
)

// TierFor classifies a completion percentage
func TierFor(pct float64) domain.BadgeTier {
	switch {
	case pct >= goldThreshold:
		return domain.TierGold
	case pct >= silverThreshold:
		return domain.TierSilver
	case pct >= bronzeThreshold:
		return domain.TierBronze
	default:
		return domain.TierNone
	}
}

type itemKey struct {
	level    domain.CurriculumLevel
	category domain.Category
	number   int
}

// catalogIndex answers whether a submission still points at a real item
type catalogIndex struct {
	items map[itemKey]bool
	empty bool
}

func newCatalogIndex(catalog []domain.CurriculumItem) catalogIndex {
	idx := catalogIndex{items: make(map[itemKey]bool, len(catalog)), empty: len(catalog) == 0}
	for _, it := range catalog {
		idx.items[itemKey{it.Level, it.Category, it.ItemNumber}] = true
	}
	return idx
}

// known reports whether rec references an existing item. An empty catalog
// (not loaded yet) trusts every record.
func (c catalogIndex) known(rec domain.SubmissionRecord) bool {
	if c.empty {
		return true
	}
	return c.items[itemKey{rec.Level, rec.Category, rec.ItemNumber}]
}

// Aggregate converts a member's verified submissions into per-category
// completion state for the level the member is currently working toward.
// It never fails: malformed or orphaned records simply contribute nothing.
func Aggregate(
	submissions []domain.SubmissionRecord,
	profile domain.Profile,
	catalog []domain.CurriculumItem,
	rules Rules,
) []domain.CategoryState {
	target := profile.RankTier.TargetLevel()
	idx := newCatalogIndex(catalog)

	byCategory := make(map[domain.Category][]domain.SubmissionRecord, len(domain.Categories))
	for _, rec := range submissions {
		if !rec.IsVerified() || rec.Level != target || !idx.known(rec) {
			continue
		}
		byCategory[rec.Category] = append(byCategory[rec.Category], rec)
	}

	states := make([]domain.CategoryState, 0, len(domain.Categories))
	for _, cat := range domain.Categories {
		relevant := byCategory[cat]

		var count int
		if cat == domain.CategorySpiritual {
			count = spiritualCount(relevant, profile.ReligiousAffiliation, target, catalog)
		} else {
			count = distinctItems(relevant, nil)
		}

		states = append(states, categoryState(cat, count, rules.categoryTotal(cat)))
	}
	return states
}

// Summarize wraps Aggregate with promotion readiness
func Summarize(
	submissions []domain.SubmissionRecord,
	profile domain.Profile,
	catalog []domain.CurriculumItem,
	rules Rules,
) domain.BadgeSummary {
	states := Aggregate(submissions, profile, catalog, rules)
	ready := len(states) > 0
	for _, s := range states {
		if s.Tier != domain.TierGold {
			ready = false
			break
		}
	}
	return domain.BadgeSummary{
		MemberID:          profile.MemberID,
		TargetLevel:       profile.RankTier.TargetLevel(),
		Categories:        states,
		ReadyForPromotion: ready,
	}
}

func categoryState(cat domain.Category, count, total int) domain.CategoryState {
	pct := 0.0
	if total > 0 {
		pct = float64(count) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return domain.CategoryState{
		Category:     cat,
		CurrentCount: count,
		Total:        total,
		Percentage:   pct,
		Tier:         TierFor(pct),
	}
}

// distinctItems counts distinct item numbers, optionally restricted to allow
func distinctItems(recs []domain.SubmissionRecord, allow map[int]bool) int {
	seen := make(map[int]bool, len(recs))
	for _, rec := range recs {
		if allow != nil && !allow[rec.ItemNumber] {
			continue
		}
		seen[rec.ItemNumber] = true
	}
	return len(seen)
}

var commonSpiritualItems = map[int]bool{1: true, 2: true, 3: true}

// spiritualCount counts items 1-3 plus the composite item 4, which only
// counts once every sub-item required for the member's religion is verified.
func spiritualCount(
	relevant []domain.SubmissionRecord,
	religion string,
	target domain.CurriculumLevel,
	catalog []domain.CurriculumItem,
) int {
	count := distinctItems(relevant, commonSpiritualItems)

	required := 0
	for _, it := range catalog {
		if it.ItemNumber == domain.CompositeItemNumber &&
			it.Category == domain.CategorySpiritual &&
			it.Level == target &&
			it.ReligiousSubtype == religion {
			required++
		}
	}

	done := make(map[string]bool)
	for _, rec := range relevant {
		if rec.ItemNumber != domain.CompositeItemNumber {
			continue
		}
		if rec.ReligiousSubtype != religion && rec.ReligiousSubtype != "" {
			continue
		}
		// sub-items are keyed by catalog item; records without one share a key
		done[rec.ItemID] = true
	}

	if required > 0 {
		if len(done) >= required {
			count++
		}
	} else if len(done) > 0 {
		count++
	}
	return count
}
