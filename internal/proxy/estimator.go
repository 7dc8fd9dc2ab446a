package proxy

import "encoding/json"

// Estimator guesses how many tokens a request will consume before the
// backend has seen it. The estimate feeds the admission check only; the
// committed amount always comes from the backend's reported usage.
type Estimator interface {
	Estimate(body []byte) int64
}

const (
	// minEstimate floors the character heuristic.
	minEstimate = 50
	// fallbackEstimate is used when the payload cannot be parsed at all.
	fallbackEstimate = 100
)

// HeuristicEstimator prefers the client-declared max_tokens budget and
// otherwise approximates one token per four characters of message content.
// A real tokenizer can be swapped in behind the Estimator interface.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(body []byte) int64 {
	var req struct {
		MaxTokens *int64 `json:"max_tokens"`
		Messages  []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return fallbackEstimate
	}

	if req.MaxTokens != nil {
		return *req.MaxTokens
	}

	if len(req.Messages) > 0 {
		var chars int64
		for _, m := range req.Messages {
			chars += int64(len(m.Content))
		}
		if est := chars / 4; est > minEstimate {
			return est
		}
		return minEstimate
	}

	return fallbackEstimate
}
