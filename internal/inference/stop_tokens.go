package inference

import (
	"slices"
	"strings"

	"github.com/triandco/nexttoken/internal/model"
)

// tokenSource is the subset of the tokenizer the stop set is derived from.
type tokenSource interface {
	EOSID() int
	TokenString(int) string
}

// StopTokens returns the ids that end generation: the model's configured
// ids, the tokenizer's eos id and the legacy id 2 when it spells an
// end-of-text marker.
func StopTokens(cfg model.Config, tok tokenSource) []int {
	stop := slices.Clone(cfg.EOSTokenIDs)
	add := func(id int) {
		if id >= 0 && !slices.Contains(stop, id) {
			stop = append(stop, id)
		}
	}
	if tok == nil {
		return stop
	}
	add(tok.EOSID())

	token2 := strings.ToLower(strings.TrimSpace(tok.TokenString(2)))
	if token2 == "<|endoftext|>" || token2 == "<|end_of_text|>" || token2 == "</s>" {
		add(2)
	}
	return stop
}
