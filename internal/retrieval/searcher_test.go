package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// topicVector maps text onto a few keyword dimensions so that texts about the
// same topic land close together.
func topicVector(text string) []float32 {
	lower := strings.ToLower(text)
	topics := [][]string{
		{"thursday", "thu"},
		{"meet", "meeting", "call", "sync"},
		{"3pm", "15:00", "3 pm"},
		{"invoice", "payment", "billing"},
		{"lunch", "dinner", "food"},
	}
	v := make([]float32, len(topics)+1)
	for i, words := range topics {
		for _, w := range words {
			if strings.Contains(lower, w) {
				v[i]++
			}
		}
	}
	v[len(topics)] = 0.1
	return v
}

func TestSearcher_ThursdayScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEmbedder(func(_ context.Context, _ string, text string) ([]float32, error) {
		return topicVector(text), nil
	}, EmbedderConfig{})
	idx := NewSQLiteIndex(openTestDB(t))

	emailVec, err := e.Embed(ctx, "Can we meet Thursday at 3pm?")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := idx.Upsert(ctx, point("email-1", "gmail", emailVec, time.Now())); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	otherVec, _ := e.Embed(ctx, "Your invoice for May is attached, payment due")
	idx.Upsert(ctx, point("email-2", "gmail", otherVec, time.Now()))

	s := NewSearcher(e, idx)
	results, err := s.Search(ctx, "Thursday 3pm meeting confirmed", 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].ID != "email-1" {
		t.Fatalf("results = %+v, want email-1 first", results)
	}
	if results[0].Score <= 0.7 {
		t.Errorf("score = %f, want > 0.7", results[0].Score)
	}
}

func TestSearcher_EmbeddingFailure(t *testing.T) {
	e := newTestEmbedder(func(_ context.Context, _ string, _ string) ([]float32, error) {
		return nil, errors.New("down")
	}, EmbedderConfig{})
	s := NewSearcher(e, NewSQLiteIndex(openTestDB(t)))

	if _, err := s.Search(context.Background(), "anything", 5, nil); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors = %f, want 1", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors = %f, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("dimension mismatch = %f, want 0", got)
	}
}
