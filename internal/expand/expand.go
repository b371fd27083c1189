// Package expand materializes virtual event instances from recurring event
// templates. It is a pure computation over read-only inputs: no I/O, no
// mutation of the templates, safe to call concurrently for any windows.
package expand

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "lmscal/internal/log"
	"lmscal/internal/model"
)

const defaultMaxOccurrencesPerTemplate = 5000

// Recurrence patterns understood by the expander.
const (
	PatternDaily    = "daily"
	PatternWeekly   = "weekly"
	PatternBiweekly = "biweekly"
	PatternMonthly  = "monthly"
)

// Config controls how recurrence expansion is performed.
type Config struct {
	// WindowStart / WindowEnd define the inclusive time window for
	// occurrences.
	WindowStart time.Time
	WindowEnd   time.Time

	// MaxOccurrencesPerTemplate is a safety cap to avoid extremely large
	// expansions. If zero, defaultMaxOccurrencesPerTemplate is used.
	MaxOccurrencesPerTemplate int
}

// Result wraps the expanded instances plus per-template problems. A template
// that could not be expanded never fails the whole window; it is recorded
// here and skipped.
type Result struct {
	Instances []model.VirtualEventInstance

	// SkippedTemplates lists templates whose recurrence pattern could not
	// be interpreted.
	SkippedTemplates []int64
	// TruncatedTemplates lists templates that hit the occurrence cap.
	TruncatedTemplates []int64
}

// Expand computes every occurrence of the given templates inside the window
// and returns one VirtualEventInstance per occurrence, ordered ascending by
// start time with ties broken by template id.
//
// Invariants:
//   - The occurrence phase is anchored on each template's own start time,
//     never on the window start.
//   - Each instance carries an eager copy of the template's group ids; the
//     instance remains usable after the template row is gone.
//   - A template yielding zero occurrences in the window is not an error.
func Expand(templates []model.EventTemplate, cfg Config) (Result, error) {
	var result Result

	if cfg.WindowEnd.Before(cfg.WindowStart) {
		return result, errors.New("expand: WindowEnd is before WindowStart")
	}
	if cfg.MaxOccurrencesPerTemplate <= 0 {
		cfg.MaxOccurrencesPerTemplate = defaultMaxOccurrencesPerTemplate
	}

	instances := make([]model.VirtualEventInstance, 0)

	for _, t := range templates {
		// A template deactivated between selection and expansion is
		// skipped, not an error.
		if !t.Active {
			continue
		}

		occ, truncated, err := expandTemplate(t, cfg)
		if err != nil {
			appLog.Warn("expand: skipping template with unusable recurrence pattern",
				"template_id", t.ID,
				"pattern", t.RecurrencePattern,
				"err", err,
			)
			result.SkippedTemplates = append(result.SkippedTemplates, t.ID)
			continue
		}
		if truncated {
			appLog.Warn("expand: occurrence cap hit for template",
				"template_id", t.ID,
				"cap", cfg.MaxOccurrencesPerTemplate,
			)
			result.TruncatedTemplates = append(result.TruncatedTemplates, t.ID)
		}
		instances = append(instances, occ...)
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].Start.Equal(instances[j].Start) {
			return instances[i].Start.Before(instances[j].Start)
		}
		return instances[i].TemplateID < instances[j].TemplateID
	})

	result.Instances = instances
	return result, nil
}

// expandTemplate expands a single template within the window, returning its
// instances and whether the cap was hit.
func expandTemplate(t model.EventTemplate, cfg Config) ([]model.VirtualEventInstance, bool, error) {
	r, err := buildRule(t)
	if err != nil {
		return nil, false, err
	}

	// Adjust the window into the template's original location for Between().
	windowStart := cfg.WindowStart.In(t.StartAt.Location())
	windowEnd := cfg.WindowEnd.In(t.StartAt.Location())

	occTimes := r.Between(windowStart, windowEnd, true)

	truncated := false
	if len(occTimes) > cfg.MaxOccurrencesPerTemplate {
		occTimes = occTimes[:cfg.MaxOccurrencesPerTemplate]
		truncated = true
	}

	if len(occTimes) == 0 {
		return nil, false, nil
	}

	// Group ids are invariant across occurrences of one template: copy them
	// out of the template once, then share the copy across instances. The
	// copy must exist because instances outlive the template's query context.
	groupIDs := append([]model.GroupID(nil), t.GroupIDs...)

	duration := t.EndAt.Sub(t.StartAt)

	out := make([]model.VirtualEventInstance, 0, len(occTimes))
	for _, occStart := range occTimes {
		out = append(out, model.VirtualEventInstance{
			ID:          model.VirtualInstanceID(t.ID, occStart),
			TemplateID:  t.ID,
			Title:       t.Title,
			Description: t.Description,
			EventType:   t.EventType,
			Location:    t.Location,
			IsOnline:    t.IsOnline,
			MeetingURL:  t.MeetingURL,
			CreatedBy:   t.CreatedBy,
			Start:       occStart,
			End:         occStart.Add(duration),
			GroupIDs:    groupIDs,
		})
	}

	return out, truncated, nil
}

// buildRule converts a template's recurrence pattern into an rrule anchored
// at the template's own start time.
func buildRule(t model.EventTemplate) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart: t.StartAt,
	}

	switch t.RecurrencePattern {
	case PatternDaily:
		opt.Freq = rrule.DAILY
	case PatternWeekly:
		opt.Freq = rrule.WEEKLY
	case PatternBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case PatternMonthly:
		opt.Freq = rrule.MONTHLY
		// Clamp the day-of-month to the target month's length, so a
		// template anchored on the 31st still fires in February instead
		// of skipping short months.
		if day := t.StartAt.Day(); day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	case "":
		return nil, errors.New("empty recurrence pattern")
	default:
		return nil, errors.New("unknown recurrence pattern: " + t.RecurrencePattern)
	}

	if t.RecurrenceEnd != nil {
		// The recurrence end is a calendar day; occurrences on that day
		// still count.
		end := *t.RecurrenceEnd
		opt.Until = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, t.StartAt.Location())
	}

	return rrule.NewRRule(opt)
}
