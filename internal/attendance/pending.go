package attendance

import (
	"context"
	"log"

	"faris/internal/queue"
)

// Drainer commits queued manual edits on a periodic tick. It remembers the
// last status it committed per record and skips writes that would not change
// anything, so rapid UI edits do not amplify into repeated updates.
type Drainer struct {
	svc  *Service
	q    queue.Queue
	last map[string]Status
}

// NewDrainer creates a drainer over the pending-edit queue.
func NewDrainer(svc *Service, q queue.Queue) *Drainer {
	return &Drainer{svc: svc, q: q, last: make(map[string]Status)}
}

// DrainOnce pulls everything queued and commits each change. When several
// edits target the same record, only the newest one is written. Per-edit
// failures are logged and skipped; the drain itself only fails when the
// queue backend does.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	edits, err := d.q.Drain(ctx)
	if err != nil {
		return 0, err
	}
	if len(edits) == 0 {
		return 0, nil
	}

	// Last edit per record wins.
	latest := make(map[string]queue.PendingEdit, len(edits))
	order := make([]string, 0, len(edits))
	for _, e := range edits {
		key := e.Key()
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = e
	}

	committed := 0
	for _, key := range order {
		e := latest[key]
		status := Status(e.Status)
		if d.last[key] == status {
			continue
		}
		out, err := d.svc.Mark(ctx, e.StudentID, e.CourseID, e.Date, e.Time, status)
		if err != nil {
			log.Printf("pending edit %s: %v", key, err)
			continue
		}
		if !out.OK {
			log.Printf("pending edit %s rejected: %s", key, out.Message)
			continue
		}
		d.last[key] = status
		committed++
	}
	return committed, nil
}
