package embedding

// Match is an accepted gallery hit.
type Match struct {
	StudentID string
	Name      string
	Distance  float64
}

// GalleryEntry is one enrolled student's normalized embedding.
type GalleryEntry struct {
	StudentID string
	Name      string
	Vector    Vector
}

// MatchVector compares a query against the gallery and returns the entry
// minimizing cosine distance, provided the distance is within tolerance.
// The query must already be normalized; gallery vectors are normalized at
// load time. Ties go to the earliest entry in gallery order, which is
// stable (load order is by student id). An empty gallery never matches.
func MatchVector(query Vector, gallery []GalleryEntry, tolerance float64) (Match, bool) {
	best := -1
	bestDist := 0.0
	for i, entry := range gallery {
		d := query.CosineDistance(entry.Vector)
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best == -1 || bestDist > tolerance {
		return Match{}, false
	}
	return Match{
		StudentID: gallery[best].StudentID,
		Name:      gallery[best].Name,
		Distance:  bestDist,
	}, true
}
