package instance

import (
	"log/slog"
	"sort"
	"time"

	"github.com/helioform/calstore/recurrence"
	"github.com/helioform/calstore/storage"
)

// candidate is one instance row built during the first resolver pass,
// keyed into its recurrence family together with what the second pass
// needs to apply exception overrides.
type candidate struct {
	inst         storage.Instance
	status       storage.Status
	exception    bool
	originalSync string
	originalTime time.Time
}

// resolveOverlay turns candidate events into instance rows for the
// window [begin, end], with exceptions overlaid on the occurrences they
// override.
//
// Pass one expands every event into candidates grouped by sync id,
// which is the recurrence family key. Pass two walks the exception
// candidates and removes the base occurrences they replace, matching on
// the exact original start instant. Whatever is not canceled afterwards
// becomes an instance. An exception whose base event is absent stands
// alone, and an exception that landed outside the window still
// suppresses its base occurrence but contributes nothing itself.
//
// Malformed events never fail the whole expansion. They are logged and
// degraded per event.
func resolveOverlay(logger *slog.Logger, exp recurrence.Expander, maxAssumed time.Duration,
	events []*storage.Event, begin, end time.Time, loc *time.Location) []storage.Instance {

	families := make(map[string][]candidate)

	for _, ev := range events {
		projLoc := loc
		if ev.AllDay {
			projLoc = time.UTC
		}

		dur, err := storage.ParseDuration(ev.Duration)
		if err != nil {
			logger.Warn("malformed event duration, assuming zero",
				"event_id", ev.ID,
				"duration", ev.Duration,
				"error", err)
			dur = 0
		}

		rs := ev.RuleSet()
		if rs.HasRecurrence() {
			if ev.Status == storage.StatusCanceled {
				logger.Error("canceled recurring event in expansion, skipping",
					"event_id", ev.ID)
				continue
			}
			if ev.Duration == "" {
				switch {
				case ev.AllDay:
					dur = 24 * time.Hour
				case ev.End != nil:
					dur = ev.End.Sub(ev.Start)
				default:
					dur = 0
				}
			}
			if dur > maxAssumed {
				logger.Warn("event duration exceeds the exception look-back, moved occurrences may be missed",
					"event_id", ev.ID,
					"duration", dur)
			}

			occs, err := exp.Expand(ev.Start.In(ev.Location()), rs, begin, end)
			if err != nil {
				logger.Warn("cannot expand recurrence, treating event as a single zero-length occurrence",
					"event_id", ev.ID,
					"error", err)
				if !ev.Start.Before(begin) && !ev.Start.After(end) {
					families[ev.SyncID] = append(families[ev.SyncID], candidate{
						inst:   newInstance(ev.ID, ev.Start, ev.Start, projLoc),
						status: ev.Status,
					})
				}
				continue
			}
			for _, occ := range occs {
				families[ev.SyncID] = append(families[ev.SyncID], candidate{
					inst:   newInstance(ev.ID, occ, occ.Add(dur), projLoc),
					status: ev.Status,
				})
			}
			continue
		}

		// Plain events and exceptions produce exactly one candidate.
		beginT := ev.Start
		var endT time.Time
		switch {
		case ev.Duration != "":
			endT = beginT.Add(dur)
		case ev.End != nil:
			endT = *ev.End
		default:
			endT = beginT
		}

		status := ev.Status
		if endT.Before(begin) || beginT.After(end) {
			if !ev.IsException() {
				logger.Warn("plain event fetched outside the expansion window, skipping",
					"event_id", ev.ID)
				continue
			}
			// Out of window, but the occurrence it overrides must still
			// disappear.
			status = storage.StatusCanceled
		}

		c := candidate{
			inst:   newInstance(ev.ID, beginT, endT, projLoc),
			status: status,
		}
		if ev.IsException() {
			c.exception = true
			c.originalSync = ev.OriginalSyncID
			c.originalTime = *ev.OriginalTime
		}
		families[ev.SyncID] = append(families[ev.SyncID], c)
	}

	// Second pass: each exception knocks out the base occurrences it
	// replaces.
	type removal struct {
		family  string
		beginAt time.Time
	}
	var removals []removal
	for _, list := range families {
		for _, c := range list {
			if c.exception {
				removals = append(removals, removal{family: c.originalSync, beginAt: c.originalTime})
			}
		}
	}
	for _, r := range removals {
		target, ok := families[r.family]
		if !ok {
			continue
		}
		kept := make([]candidate, 0, len(target))
		for _, tc := range target {
			if !tc.exception && tc.inst.Begin.Equal(r.beginAt) {
				continue
			}
			kept = append(kept, tc)
		}
		families[r.family] = kept
	}

	var out []storage.Instance
	for _, list := range families {
		for _, c := range list {
			if c.status == storage.StatusCanceled {
				continue
			}
			out = append(out, c.inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Begin.Equal(out[j].Begin) {
			return out[i].Begin.Before(out[j].Begin)
		}
		return out[i].EventID < out[j].EventID
	})
	return out
}
