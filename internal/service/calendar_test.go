package service

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"lmscal/internal/model"
	"lmscal/internal/store"
)

type fakeEvents struct {
	templates    []model.EventTemplate
	oneOff       []model.PersistedEvent
	created      []model.PersistedEvent
	participants map[int64][]int64
	nextID       int64
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{participants: map[int64][]int64{}, nextID: 1000}
}

func (f *fakeEvents) ActiveTemplates(_ []model.GroupID, _, _ time.Time) ([]model.EventTemplate, error) {
	return f.templates, nil
}

func (f *fakeEvents) ActiveOneOff(_ []model.GroupID, _, _ time.Time) ([]model.PersistedEvent, error) {
	return f.oneOff, nil
}

func (f *fakeEvents) TemplateByID(id int64) (*model.EventTemplate, error) {
	for i := range f.templates {
		if f.templates[i].ID == id {
			t := f.templates[i]
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeEvents) EventByID(id int64) (*model.PersistedEvent, error) {
	for i := range f.oneOff {
		if f.oneOff[i].ID == id {
			ev := f.oneOff[i]
			return &ev, nil
		}
	}
	for i := range f.created {
		if f.created[i].ID == id {
			ev := f.created[i]
			return &ev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeEvents) CreateTemplate(t *model.EventTemplate) error {
	f.nextID++
	t.ID = f.nextID
	t.Active = true
	f.templates = append(f.templates, *t)
	return nil
}

func (f *fakeEvents) CreateMaterialized(ev *model.PersistedEvent) error {
	f.nextID++
	ev.ID = f.nextID
	f.created = append(f.created, *ev)
	return nil
}

func (f *fakeEvents) DeactivateTemplate(id int64) error {
	for i := range f.templates {
		if f.templates[i].ID == id {
			f.templates[i].Active = false
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeEvents) CountParticipants(eventID int64) (int64, error) {
	return int64(len(f.participants[eventID])), nil
}

func (f *fakeEvents) HasParticipant(eventID, userID int64) (bool, error) {
	for _, u := range f.participants[eventID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEvents) AddParticipant(eventID, userID int64) error {
	f.participants[eventID] = append(f.participants[eventID], userID)
	return nil
}

func (f *fakeEvents) RemoveParticipant(eventID, userID int64) error {
	users := f.participants[eventID]
	for i, u := range users {
		if u == userID {
			f.participants[eventID] = append(users[:i], users[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeSchedules struct {
	slots []model.ScheduledLessonEvent
}

func (f *fakeSchedules) InWindow(_ []model.GroupID, _, _ time.Time) ([]model.ScheduledLessonEvent, error) {
	return f.slots, nil
}

func (f *fakeSchedules) ByID(id int64) (*model.ScheduledLessonEvent, error) {
	for i := range f.slots {
		if f.slots[i].ScheduleID == id {
			s := f.slots[i]
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeGroupNames struct {
	names map[model.GroupID]string
}

func (f *fakeGroupNames) Create(*store.Group) error { return nil }

func (f *fakeGroupNames) GroupNames(ids []model.GroupID) (map[model.GroupID]string, error) {
	out := make(map[model.GroupID]string)
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (f *fakeGroupNames) AllIDs() ([]model.GroupID, error) {
	out := make([]model.GroupID, 0, len(f.names))
	for id := range f.names {
		out = append(out, id)
	}
	return out, nil
}

func testCalendar(events *fakeEvents, schedules *fakeSchedules) *Calendar {
	return NewCalendar(events, schedules, &fakeGroupNames{names: map[model.GroupID]string{
		5: "Group A",
		7: "Group B",
	}}, Config{})
}

func weeklyTemplate(id int64, start time.Time, groups ...model.GroupID) model.EventTemplate {
	return model.EventTemplate{
		ID:                id,
		Title:             "Weekly class",
		EventType:         "class",
		StartAt:           start,
		EndAt:             start.Add(time.Hour),
		CreatedBy:         1,
		RecurrencePattern: "weekly",
		GroupIDs:          groups,
		Active:            true,
	}
}

func TestWindow_LessonScheduleBeatsVirtualInstance(t *testing.T) {
	t.Parallel()

	// Weekly Monday 19:00, groups {5,7}; a planned lesson for group 5
	// occupies the Feb 2 slot. The calendar must show 4 events for
	// February with the Feb 2 one sourced from the lesson schedule.
	tmplStart := time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC)
	events := newFakeEvents()
	events.templates = []model.EventTemplate{weeklyTemplate(42, tmplStart, 5, 7)}

	lessonAt := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	schedules := &fakeSchedules{slots: []model.ScheduledLessonEvent{{
		ScheduleID:  11,
		LessonTitle: "Algebra",
		GroupID:     5,
		GroupName:   "Group A",
		ScheduledAt: lessonAt,
		Duration:    90 * time.Minute,
	}}}

	cal := testCalendar(events, schedules)
	res, err := cal.Window(
		[]model.GroupID{5},
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}

	if len(res.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(res.Events))
	}
	first := res.Events[0]
	if first.Source != model.SourceLessonSchedule {
		t.Fatalf("expected lesson schedule to win the Feb 2 slot, got %q", first.Source)
	}
	if !first.Start.Equal(lessonAt) {
		t.Fatalf("unexpected first start %v", first.Start)
	}
	for _, e := range res.Events[1:] {
		if e.Source != model.SourceVirtual {
			t.Fatalf("expected remaining slots to stay virtual, got %q", e.Source)
		}
		if !reflect.DeepEqual(e.GroupIDs, []model.GroupID{5}) {
			t.Fatalf("scope filter not applied: %v", e.GroupIDs)
		}
		if !reflect.DeepEqual(e.GroupNames, []string{"Group A"}) {
			t.Fatalf("group names not resolved: %v", e.GroupNames)
		}
	}
}

func TestWindow_OverlappingSeriesDiagnostic(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC)
	events := newFakeEvents()
	events.templates = []model.EventTemplate{
		weeklyTemplate(1, start, 9),
		weeklyTemplate(2, start, 9),
	}

	cal := testCalendar(events, &fakeSchedules{})
	res, err := cal.Window(
		[]model.GroupID{9},
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 5, 23, 59, 59, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}

	if len(res.Events) != 1 {
		t.Fatalf("expected one retained event, got %d", len(res.Events))
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected one overlap diagnostic, got %d", len(res.Diagnostics))
	}
	if res.Events[0].ID != model.VirtualInstanceID(1, start) {
		t.Fatalf("expected template 1's instance retained, got %d", res.Events[0].ID)
	}
}

func TestMonth_Bounds(t *testing.T) {
	t.Parallel()

	events := newFakeEvents()
	events.templates = []model.EventTemplate{
		weeklyTemplate(1, time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC), 5),
	}

	cal := testCalendar(events, &fakeSchedules{})
	res, err := cal.Month([]model.GroupID{5}, 2026, time.February, time.UTC)
	if err != nil {
		t.Fatalf("Month: %v", err)
	}

	if len(res.Events) != 4 {
		t.Fatalf("expected 4 Mondays in February 2026, got %d", len(res.Events))
	}
	for _, e := range res.Events {
		if e.Start.Month() != time.February {
			t.Fatalf("event outside month bounds: %v", e.Start)
		}
	}
}

func TestUpcoming_Limit(t *testing.T) {
	t.Parallel()

	events := newFakeEvents()
	events.templates = []model.EventTemplate{
		weeklyTemplate(1, time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC), 5),
	}

	cal := testCalendar(events, &fakeSchedules{})
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	res, err := cal.Upcoming([]model.GroupID{5}, now, 30, 2)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(res.Events))
	}
	if !res.Events[0].Start.Before(res.Events[1].Start) {
		t.Fatal("upcoming events not ordered")
	}
}

func TestMaterialize_RecurringInstance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC)
	events := newFakeEvents()
	events.templates = []model.EventTemplate{weeklyTemplate(42, start, 5, 7)}

	cal := testCalendar(events, &fakeSchedules{})

	occAt := start.AddDate(0, 0, 28) // Feb 2
	virtualID := model.VirtualInstanceID(42, occAt)

	ev, err := cal.Materialize(virtualID, 9)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if ev.ID == 0 || model.IsVirtualID(ev.ID) {
		t.Fatalf("materialized event must have a persisted id, got %d", ev.ID)
	}
	if !ev.Start.Equal(occAt) {
		t.Fatalf("unexpected start %v", ev.Start)
	}
	if ev.CreatedBy != 9 {
		t.Fatalf("expected creator 9, got %d", ev.CreatedBy)
	}
	if !reflect.DeepEqual(ev.GroupIDs, []model.GroupID{5, 7}) {
		t.Fatalf("group links not copied: %v", ev.GroupIDs)
	}

	// An id pointing at a date the series never covers must not create rows.
	forged := model.VirtualInstanceID(42, occAt.Add(24*time.Hour))
	if _, err := cal.Materialize(forged, 9); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for forged id, got %v", err)
	}
	if len(events.created) != 1 {
		t.Fatalf("forged id created a row: %d rows", len(events.created))
	}
}

func TestMaterialize_LessonSchedule(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	schedules := &fakeSchedules{slots: []model.ScheduledLessonEvent{{
		ScheduleID:  3,
		LessonTitle: "Algebra",
		GroupID:     5,
		GroupName:   "Group A",
		ScheduledAt: at,
		Duration:    90 * time.Minute,
	}}}

	cal := testCalendar(newFakeEvents(), schedules)

	ev, err := cal.Materialize(model.ScheduleInstanceID(3), 9)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if ev.Title != "Group A: Algebra" {
		t.Fatalf("unexpected title %q", ev.Title)
	}
	if !ev.End.Equal(at.Add(90 * time.Minute)) {
		t.Fatalf("unexpected end %v", ev.End)
	}
	if !reflect.DeepEqual(ev.GroupIDs, []model.GroupID{5}) {
		t.Fatalf("unexpected groups %v", ev.GroupIDs)
	}
}

func TestRegister_CapacityAndDuplicates(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	events := newFakeEvents()
	events.oneOff = []model.PersistedEvent{{
		ID: 100, Title: "Webinar", EventType: "webinar",
		Start: start, End: start.Add(time.Hour),
		MaxParticipants: 1,
		GroupIDs:        []model.GroupID{5},
	}}

	cal := testCalendar(events, &fakeSchedules{})

	if _, err := cal.Register(100, 7); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := cal.Register(100, 7); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := cal.Register(100, 8); !errors.Is(err, ErrEventFull) {
		t.Fatalf("expected ErrEventFull, got %v", err)
	}

	if err := cal.Unregister(100, 7); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := cal.Unregister(100, 7); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegister_MaterializesVirtualFirst(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 5, 19, 0, 0, 0, time.UTC)
	events := newFakeEvents()
	events.templates = []model.EventTemplate{weeklyTemplate(42, start, 5)}

	cal := testCalendar(events, &fakeSchedules{})

	virtualID := model.VirtualInstanceID(42, start.AddDate(0, 0, 7))
	ev, err := cal.Register(virtualID, 7)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if model.IsVirtualID(ev.ID) {
		t.Fatalf("registration attached to a virtual id %d", ev.ID)
	}
	ok, _ := events.HasParticipant(ev.ID, 7)
	if !ok {
		t.Fatal("participant row missing after registration")
	}
}
