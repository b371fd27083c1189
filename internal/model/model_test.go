package model

import (
	"reflect"
	"testing"
	"time"
)

func TestVirtualInstanceID_RoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	id := VirtualInstanceID(42, start)

	if !IsVirtualID(id) {
		t.Fatalf("instance id %d not recognized as virtual", id)
	}
	if id < PersistedIDMax {
		t.Fatalf("instance id %d collides with the persisted id space", id)
	}

	tmplID, got, ok := SplitVirtualInstanceID(id)
	if !ok {
		t.Fatal("SplitVirtualInstanceID rejected a valid id")
	}
	if tmplID != 42 {
		t.Fatalf("expected template 42, got %d", tmplID)
	}
	if !got.Equal(start) {
		t.Fatalf("expected start %v, got %v", start, got)
	}
}

func TestVirtualInstanceID_Stable(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	if VirtualInstanceID(7, start) != VirtualInstanceID(7, start) {
		t.Fatal("synthetic id not stable across calls")
	}
	if VirtualInstanceID(7, start) == VirtualInstanceID(8, start) {
		t.Fatal("different templates share a synthetic id")
	}
	if VirtualInstanceID(7, start) == VirtualInstanceID(7, start.Add(time.Minute)) {
		t.Fatal("different occurrences share a synthetic id")
	}
}

func TestScheduleInstanceID_DistinctRange(t *testing.T) {
	t.Parallel()

	schedID := ScheduleInstanceID(11)
	if !IsVirtualID(schedID) {
		t.Fatalf("schedule id %d not recognized as virtual", schedID)
	}

	got, ok := SplitScheduleInstanceID(schedID)
	if !ok || got != 11 {
		t.Fatalf("round trip failed: got %d, ok=%v", got, ok)
	}

	// A recurring-instance id must never decode as a schedule id.
	recurring := VirtualInstanceID(11, time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC))
	if _, ok := SplitScheduleInstanceID(recurring); ok {
		t.Fatal("recurring id decoded as schedule id")
	}
	if _, _, ok := SplitVirtualInstanceID(schedID); ok {
		t.Fatal("schedule id decoded as recurring id")
	}
}

func TestRelevantGroupIDs_FilterAndSort(t *testing.T) {
	t.Parallel()

	v := VirtualEventInstance{GroupIDs: []GroupID{7, 5, 7}}

	if got := v.RelevantGroupIDs(nil); !reflect.DeepEqual(got, []GroupID{5, 7}) {
		t.Fatalf("unfiltered: expected [5 7], got %v", got)
	}
	if got := v.RelevantGroupIDs(NewGroupSet(5)); !reflect.DeepEqual(got, []GroupID{5}) {
		t.Fatalf("filtered: expected [5], got %v", got)
	}
	if got := v.RelevantGroupIDs(NewGroupSet(3)); len(got) != 0 {
		t.Fatalf("out-of-scope: expected empty, got %v", got)
	}
}

func TestScheduledLessonEvent_Canonical(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 2, 19, 0, 0, 0, time.UTC)
	s := ScheduledLessonEvent{
		ScheduleID:  3,
		LessonTitle: "Algebra",
		GroupID:     5,
		GroupName:   "Group A",
		ScheduledAt: at,
		Duration:    90 * time.Minute,
	}

	ce := s.Canonical()
	if ce.Title != "Group A: Algebra" {
		t.Fatalf("unexpected title %q", ce.Title)
	}
	if ce.Source != SourceLessonSchedule {
		t.Fatalf("unexpected source %q", ce.Source)
	}
	if !ce.End.Equal(at.Add(90 * time.Minute)) {
		t.Fatalf("unexpected end %v", ce.End)
	}
	if ce.ID != ScheduleInstanceID(3) {
		t.Fatalf("unexpected id %d", ce.ID)
	}
}
