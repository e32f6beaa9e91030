package queue

import (
	"context"
	"testing"
)

func TestInMemory_PublishDrainOrder(t *testing.T) {
	q := NewInMemory(8)
	ctx := context.Background()

	for _, status := range []string{"Absent", "Late", "Present"} {
		edit := PendingEdit{StudentID: "s1", CourseID: 42, Date: "2026-03-10", Status: status}
		if err := q.Publish(ctx, edit); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	edits, err := q.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(edits) != 3 {
		t.Fatalf("expected 3 edits, got %d", len(edits))
	}
	for i, want := range []string{"Absent", "Late", "Present"} {
		if edits[i].Status != want {
			t.Errorf("position %d: want %s, got %s", i, want, edits[i].Status)
		}
	}
}

func TestInMemory_DrainEmptyDoesNotBlock(t *testing.T) {
	q := NewInMemory(1)
	edits, err := q.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(edits) != 0 {
		t.Errorf("expected empty drain, got %d edits", len(edits))
	}
}

func TestInMemory_PublishFullRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	if err := q.Publish(ctx, PendingEdit{StudentID: "s1"}); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.Publish(cancelled, PendingEdit{StudentID: "s2"}); err == nil {
		t.Error("publish into a full queue with a dead context must fail")
	}
}

func TestPendingEdit_KeyIgnoresTimeAndStatus(t *testing.T) {
	a := PendingEdit{StudentID: "s1", CourseID: 42, Date: "2026-03-10", Time: "08:00:00", Status: "Late"}
	b := PendingEdit{StudentID: "s1", CourseID: 42, Date: "2026-03-10", Time: "08:05:00", Status: "Present"}
	if a.Key() != b.Key() {
		t.Error("edits for the same record on the same day must share a key")
	}
	c := PendingEdit{StudentID: "s1", CourseID: 43, Date: "2026-03-10"}
	if a.Key() == c.Key() {
		t.Error("different courses must not collide")
	}
}
