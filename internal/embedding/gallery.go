package embedding

import (
	"context"
	"database/sql"
	"log"
	"sync"

	"github.com/pgvector/pgvector-go"
)

// Gallery is the in-memory cache of enrolled embeddings. It is stale by
// contract until Reload is called: registration writes do not invalidate it,
// callers must reload explicitly afterward.
type Gallery struct {
	db *sql.DB

	mu      sync.RWMutex
	entries []GalleryEntry
}

// NewGallery creates an empty gallery over the students table.
func NewGallery(db *sql.DB) *Gallery {
	return &Gallery{db: db}
}

// Reload replaces the cache with the current enrolled embeddings, normalized
// once here so match time is a plain dot product. Rows with unloadable
// embeddings are logged and skipped.
func (g *Gallery) Reload(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, embedding FROM students
		WHERE embedding IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var entries []GalleryEntry
	for rows.Next() {
		var (
			id, name string
			vec      pgvector.Vector
		)
		if err := rows.Scan(&id, &name, &vec); err != nil {
			log.Printf("gallery: skipping embedding row: %v", err)
			continue
		}
		entries = append(entries, GalleryEntry{
			StudentID: id,
			Name:      name,
			Vector:    Vector(vec.Slice()).Normalize(),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	g.entries = entries
	g.mu.Unlock()
	log.Printf("gallery: loaded %d enrolled embeddings", len(entries))
	return nil
}

// Snapshot returns the current entries. The slice is replaced wholesale on
// reload, never mutated, so holding a snapshot across a reload is safe.
func (g *Gallery) Snapshot() []GalleryEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entries
}

// Size reports the number of cached embeddings.
func (g *Gallery) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// SaveEmbedding stores (or replaces) a student's embedding and optional
// source image URL. The gallery continues serving the old vector until
// Reload is called.
func (g *Gallery) SaveEmbedding(ctx context.Context, studentID string, v Vector, sourceImageURL string) error {
	var url any
	if sourceImageURL != "" {
		url = sourceImageURL
	}
	_, err := g.db.ExecContext(ctx, `
		UPDATE students
		SET embedding = $2, source_image_url = COALESCE($3, source_image_url)
		WHERE id = $1
	`, studentID, pgvector.NewVector([]float32(v)), url)
	return err
}
