package core

import (
	"sync"

	"landslide_service/internal/domain/model"
)

// DetectionFeed buffers coordinates the detection service confirmed as
// landslides until a monitoring check attributes them to an area. The
// tracker adds, the evaluator drains.
type DetectionFeed struct {
	mu     sync.Mutex
	points []model.Coordinate
}

func NewDetectionFeed() *DetectionFeed {
	return &DetectionFeed{}
}

// Add appends a detected coordinate to the buffer.
func (f *DetectionFeed) Add(c model.Coordinate) {
	f.mu.Lock()
	f.points = append(f.points, c)
	f.mu.Unlock()
}

// Drain removes and returns every buffered point inside bounds.
// Points outside stay buffered for other areas.
func (f *DetectionFeed) Drain(bounds model.BoundingBox) []model.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()

	var inside, outside []model.Coordinate
	for _, p := range f.points {
		if bounds.Contains(p) {
			inside = append(inside, p)
		} else {
			outside = append(outside, p)
		}
	}
	f.points = outside
	return inside
}

// Requeue returns points to the buffer after a failed attribution so
// a later check can pick them up again.
func (f *DetectionFeed) Requeue(points []model.Coordinate) {
	if len(points) == 0 {
		return
	}
	f.mu.Lock()
	f.points = append(f.points, points...)
	f.mu.Unlock()
}

// Pending returns the number of unattributed points.
func (f *DetectionFeed) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}
