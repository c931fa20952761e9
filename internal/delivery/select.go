package delivery

import (
	"sort"
	"time"

	"github.com/ppiankov/postcast/internal/source"
)

// SelectNewer returns the items before the one whose id equals cursorID, in
// the page's newest-first order. When the cursor is not on the page every
// item is returned and stale is true.
func SelectNewer(items []source.Item, cursorID string) (selected []source.Item, stale bool) {
	for i, it := range items {
		if it.ID == cursorID {
			return items[:i], false
		}
	}
	return items, true
}

// DateGroup holds the items published on one calendar day, oldest first.
type DateGroup struct {
	Date  string
	Items []source.Item
}

// GroupByDate buckets items by publish day in loc, ordered by date ascending.
// Items without a publish time are dropped.
func GroupByDate(items []source.Item, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	byDate := make(map[string][]source.Item)
	for _, it := range items {
		if it.PublishedAt.IsZero() {
			continue
		}
		d := it.PublishedAt.In(loc).Format(DateLayout)
		byDate[d] = append(byDate[d], it)
	}

	groups := make([]DateGroup, 0, len(byDate))
	for d, its := range byDate {
		sort.SliceStable(its, func(i, j int) bool {
			return its[i].PublishedAt.Before(its[j].PublishedAt)
		})
		groups = append(groups, DateGroup{Date: d, Items: its})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Date < groups[j].Date
	})
	return groups
}

// SelectDatesBetween keeps the groups strictly after after and strictly
// before before. An empty bound is open.
func SelectDatesBetween(groups []DateGroup, after, before string) []DateGroup {
	var out []DateGroup
	for _, g := range groups {
		if after != "" && g.Date <= after {
			continue
		}
		if before != "" && g.Date >= before {
			continue
		}
		out = append(out, g)
	}
	return out
}
