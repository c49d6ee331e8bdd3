package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteIndex provides vector storage and brute-force cosine similarity search
// backed by the context_vectors table. This is the default VectorIndex.
//
// Query cost is linear in the number of vectors. When that becomes noticeable
// switch vector.backend to chromem.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations.
// The context_vectors table must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Upsert writes the point, replacing any previous vector and payload for p.ID.
func (s *SQLiteIndex) Upsert(ctx context.Context, p Point) error {
	if p.ID == "" {
		return fmt.Errorf("upsert: empty point id")
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("upsert %s: empty vector", p.ID)
	}
	ts := p.Payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_vectors (id, source_type, sender, summary, timestamp, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_type = excluded.source_type,
			sender = excluded.sender,
			summary = excluded.summary,
			timestamp = excluded.timestamp,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		p.ID, p.Payload.SourceType, p.Payload.Sender, p.Payload.Summary,
		ts.UTC().Format(timeLayout), encodeFloat32s(p.Vector), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return unavailable("upserting "+p.ID, err)
	}
	return nil
}

// Query performs brute-force cosine similarity search over all vectors,
// returning the top-k points. Vectors of a different dimension score 0.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]ScoredPoint, error) {
	if k <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id, timestamp and embedding to find top-k candidates.
	q := `SELECT id, timestamp, embedding FROM context_vectors`
	var args []any
	if st := filter.sourceType(); st != "" {
		q += ` WHERE source_type = ?`
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("querying vectors", err)
	}
	defer rows.Close()

	exclude := filter.excluded()
	minScore, hasMin := filter.minScore()

	h := &candidateHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id, ts string
		var blob []byte
		if err := rows.Scan(&id, &ts, &blob); err != nil {
			return nil, unavailable("scanning row", err)
		}
		if _, skip := exclude[id]; skip {
			continue
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if hasMin && score < minScore {
			continue
		}
		t, _ := time.Parse(timeLayout, ts)
		c := ScoredPoint{ID: id, Score: score, Payload: Payload{ContextID: id, Timestamp: t}}
		if h.Len() < k {
			heap.Push(h, c)
		} else if ranksBefore(c, (*h)[0]) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating rows", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch payloads only for the winners.
	results := make([]ScoredPoint, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredPoint)
	}
	if err := s.fillPayloads(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLiteIndex) fillPayloads(ctx context.Context, points []ScoredPoint) error {
	args := make([]any, len(points))
	pos := make(map[string]int, len(points))
	for i, p := range points {
		args[i] = p.ID
		pos[p.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, source_type, sender, summary
		FROM context_vectors WHERE id IN (?`+strings.Repeat(",?", len(points)-1)+`)`, args...)
	if err != nil {
		return unavailable("fetching payloads", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, sourceType, sender, summary string
		if err := rows.Scan(&id, &sourceType, &sender, &summary); err != nil {
			return unavailable("scanning payload", err)
		}
		p := &points[pos[id]].Payload
		p.SourceType = sourceType
		p.Sender = sender
		p.Summary = summary
	}
	if err := rows.Err(); err != nil {
		return unavailable("iterating payloads", err)
	}
	return nil
}

// Delete removes a point by ID.
func (s *SQLiteIndex) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM context_vectors WHERE id = ?", id); err != nil {
		return unavailable("deleting "+id, err)
	}
	return nil
}

// Count returns the number of rows in the context_vectors table.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM context_vectors").Scan(&count); err != nil {
		return 0, unavailable("counting vectors", err)
	}
	return count, nil
}

// EncodeVector serializes a float32 slice to little-endian bytes.
func EncodeVector(v []float32) []byte { return encodeFloat32s(v) }

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) { return decodeFloat32s(b) }

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or the dimensions differ.
func Cosine(a, b []float32) float32 {
	n := norm(a)
	if n == 0 {
		return 0
	}
	return dotProduct(a, b, n)
}

// candidateHeap keeps the worst-ranked candidate at the root so it can be
// evicted when a better one arrives.
type candidateHeap []ScoredPoint

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return ranksBefore(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(ScoredPoint)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
