package orchestrator

import "sync"

// reliabilityAlpha weights the most recent outcome in the moving average.
const reliabilityAlpha = 0.3

// reliabilitySeed is the neutral starting score for unseen action types.
const reliabilitySeed = 0.5

// Reliability tracks an exponentially weighted success rate per action type.
// It backs conflict resolution: when two tasks' changes overlap, the type
// with the better track record wins.
type Reliability struct {
	mu     sync.Mutex
	scores map[string]float64
}

// NewReliability creates an empty tracker.
func NewReliability() *Reliability {
	return &Reliability{scores: make(map[string]float64)}
}

// Record folds one outcome into the action type's moving average.
func (r *Reliability) Record(actionType string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	score, ok := r.scores[actionType]
	if !ok {
		score = reliabilitySeed
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	r.scores[actionType] = reliabilityAlpha*outcome + (1-reliabilityAlpha)*score
}

// ScoreFor returns the current score for an action type, or the neutral seed
// when the type has never been seen.
func (r *Reliability) ScoreFor(actionType string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if score, ok := r.scores[actionType]; ok {
		return score
	}
	return reliabilitySeed
}
