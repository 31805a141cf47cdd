package voting

import (
	"math/rand"
	"sync"
	"time"
)

const (
	MinScore = 1
	MaxScore = 5

	autoMinScore = 3
	autoMaxScore = 5
)

// AutoScoreStrategy produces the score of a synthesized vote.
type AutoScoreStrategy interface {
	Score(voterID, targetID string) int
}

// RandomScorer picks a uniform score in [3,5].
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer constructs a RandomScorer with its own seed.
func NewRandomScorer() *RandomScorer {
	return NewSeededScorer(time.Now().UnixNano())
}

// NewSeededScorer constructs a RandomScorer with a fixed seed.
func NewSeededScorer(seed int64) *RandomScorer {
	return &RandomScorer{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomScorer) Score(string, string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return autoMinScore + s.rng.Intn(autoMaxScore-autoMinScore+1)
}
