// Package dedup collapses calendar entries that describe the same real-world
// session into a single canonical event. Identity is (relevant group id,
// start slot); concrete entries always beat virtual placeholders.
package dedup

import (
	"fmt"
	"sort"
	"time"

	appLog "lmscal/internal/log"
	"lmscal/internal/model"
)

const defaultSlotGranularity = time.Minute

// GroupLookup resolves group ids to display names. It is a read-only external
// collaborator; a failing lookup degrades the output (empty name lists), it
// never fails deduplication.
type GroupLookup interface {
	GroupNames(ids []model.GroupID) (map[model.GroupID]string, error)
}

type DiagnosticKind string

const (
	// DiagnosticOverlappingSeries is emitted when two virtual instances from
	// different templates collide on the same (group, slot) key. The
	// collision is resolved deterministically, but it indicates overlapping
	// recurring series configuration worth surfacing.
	DiagnosticOverlappingSeries DiagnosticKind = "overlapping_series"
)

// Diagnostic describes a non-fatal condition observed while deduplicating.
type Diagnostic struct {
	Kind        DiagnosticKind
	GroupID     model.GroupID
	Slot        time.Time
	RetainedID  int64
	DiscardedID int64
}

// String renders the diagnostic for logs and API responses.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: group %d slot %s kept %d dropped %d",
		d.Kind, d.GroupID, d.Slot.UTC().Format(time.RFC3339), d.RetainedID, d.DiscardedID)
}

// Options tunes one Deduplicate call.
type Options struct {
	// GroupFilter, when non-empty, restricts every entry's relevant-group
	// set to these ids. Entries whose restricted set is empty are dropped
	// before deduplication, not counted as duplicates.
	GroupFilter []model.GroupID

	// SlotGranularity is the rounding applied to start timestamps before
	// keying; it must match the granularity the schedule generator uses.
	// Zero means one minute.
	SlotGranularity time.Duration

	// Groups resolves display names for the surviving events. May be nil.
	Groups GroupLookup
}

type slotKey struct {
	group model.GroupID
	slot  int64
}

type candidate struct {
	entry  model.CalendarEntry
	groups []model.GroupID
}

// Deduplicate collapses the given entries into canonical events, at most one
// per (relevant group, start slot) pair. It is pure and idempotent: the same
// input always yields byte-identical output, regardless of input order.
func Deduplicate(entries []model.CalendarEntry, opts Options) ([]model.CanonicalEvent, []Diagnostic) {
	granularity := opts.SlotGranularity
	if granularity <= 0 {
		granularity = defaultSlotGranularity
	}
	filter := model.NewGroupSet(opts.GroupFilter...)

	// Resolve relevant groups up front and drop entries outside the caller's
	// scope. RelevantGroupIDs is the only group source consulted: for
	// virtual instances it reads the carried set, never a lazy relation.
	candidates := make([]candidate, 0, len(entries))
	for _, e := range entries {
		groups := e.RelevantGroupIDs(filter)
		if len(groups) == 0 {
			continue
		}
		candidates = append(candidates, candidate{entry: e, groups: groups})
	}

	// Claim order decides every tie: concrete entries first, then ascending
	// identity. Sorting here makes the result independent of input order.
	sort.Slice(candidates, func(i, j int) bool {
		vi, vj := candidates[i].entry.Virtual(), candidates[j].entry.Virtual()
		if vi != vj {
			return !vi
		}
		return candidates[i].entry.Identity() < candidates[j].entry.Identity()
	})

	claimed := make(map[slotKey]model.CalendarEntry)
	var diagnostics []Diagnostic

	survivors := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		slot := c.entry.StartTime().Truncate(granularity).UTC().Unix()

		var winner model.CalendarEntry
		var dupKey slotKey
		for _, g := range c.groups {
			key := slotKey{group: g, slot: slot}
			if w, ok := claimed[key]; ok {
				winner = w
				dupKey = key
				break
			}
		}

		if winner != nil {
			if winner.Virtual() && c.entry.Virtual() {
				appLog.Warn("dedup: overlapping recurring series on same slot",
					"group_id", dupKey.group,
					"slot", time.Unix(dupKey.slot, 0).UTC().Format(time.RFC3339),
					"retained_id", winner.Identity(),
					"discarded_id", c.entry.Identity(),
				)
				diagnostics = append(diagnostics, Diagnostic{
					Kind:        DiagnosticOverlappingSeries,
					GroupID:     dupKey.group,
					Slot:        time.Unix(dupKey.slot, 0).UTC(),
					RetainedID:  winner.Identity(),
					DiscardedID: c.entry.Identity(),
				})
			}
			continue
		}

		for _, g := range c.groups {
			claimed[slotKey{group: g, slot: slot}] = c.entry
		}
		survivors = append(survivors, c)
	}

	names := resolveGroupNames(survivors, opts.Groups)

	out := make([]model.CanonicalEvent, 0, len(survivors))
	for _, c := range survivors {
		ce := c.entry.Canonical()
		ce.GroupIDs = c.groups
		ce.GroupNames = make([]string, 0, len(c.groups))
		for _, g := range c.groups {
			if n, ok := names[g]; ok {
				ce.GroupNames = append(ce.GroupNames, n)
			}
		}
		out = append(out, ce)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})

	return out, diagnostics
}

// resolveGroupNames batch-resolves display names for the group ids actually
// present in the surviving set. Lookup failure degrades to an empty map.
func resolveGroupNames(survivors []candidate, lookup GroupLookup) map[model.GroupID]string {
	if lookup == nil || len(survivors) == 0 {
		return nil
	}

	seen := make(map[model.GroupID]struct{})
	ids := make([]model.GroupID, 0)
	for _, c := range survivors {
		for _, g := range c.groups {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			ids = append(ids, g)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	names, err := lookup.GroupNames(ids)
	if err != nil {
		appLog.Warn("dedup: group name lookup failed; omitting display names", "err", err)
		return nil
	}
	return names
}
