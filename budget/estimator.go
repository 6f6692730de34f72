package budget

// Estimator approximates token cost for prompt text. Tier selection only
// depends on this interface, so the character-ratio heuristic can be swapped
// for a provider-accurate tokenizer without touching the fallback chain.
type Estimator interface {
	Tokens(text string) int
}

// CharRatio estimates tokens as len(text)/CharsPerToken, the common
// rule of thumb for latin-script prompts.
type CharRatio struct {
	CharsPerToken int
}

// DefaultEstimator is the production estimator (4 chars per token).
var DefaultEstimator Estimator = CharRatio{CharsPerToken: 4}

func (r CharRatio) Tokens(text string) int {
	per := r.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (len(text) + per - 1) / per
}
