package tokenizer

import "strings"

// spaceMarker is the sentencepiece word boundary, U+2581.
const spaceMarker = "▁"

// normalizeStep is one flattened entry of a tokenizer.json normalizer.
// Only the steps that change BPE input for decoder-only models are kept.
type normalizeStep struct {
	prepend string
	pattern string
	replace string
}

func buildNormalizers(n *hfNormalizer) []normalizeStep {
	if n == nil {
		return nil
	}
	switch n.Type {
	case "Sequence":
		var steps []normalizeStep
		for i := range n.Normalizers {
			steps = append(steps, buildNormalizers(&n.Normalizers[i])...)
		}
		return steps
	case "Prepend":
		if n.Prepend == "" {
			return nil
		}
		return []normalizeStep{{prepend: n.Prepend}}
	case "Replace":
		if n.Pattern.String == "" {
			return nil
		}
		return []normalizeStep{{pattern: n.Pattern.String, replace: n.Content}}
	default:
		return nil
	}
}

func applyNormalizers(steps []normalizeStep, s string) string {
	if s == "" {
		return s
	}
	for _, st := range steps {
		switch {
		case st.prepend != "":
			s = st.prepend + s
		case st.pattern != "":
			s = strings.ReplaceAll(s, st.pattern, st.replace)
		}
	}
	return s
}

// metaspace mirrors the Metaspace pre-tokenizer: spaces become the
// replacement rune, a prefix is optionally added and words are split
// in front of each replacement.
type metaspace struct {
	replacement string
	scheme      string
	splitWords  bool
}

func findMetaspace(pre *hfPreTokenizer) *metaspace {
	if pre == nil {
		return nil
	}
	if pre.Type == "Metaspace" {
		m := &metaspace{
			replacement: pre.Replacement,
			scheme:      pre.PrependScheme,
			splitWords:  true,
		}
		if m.replacement == "" {
			m.replacement = spaceMarker
		}
		if m.scheme == "" {
			m.scheme = "always"
			if pre.AddPrefixSpace != nil && !*pre.AddPrefixSpace {
				m.scheme = "never"
			}
		}
		if pre.Split != nil {
			m.splitWords = *pre.Split
		}
		return m
	}
	for i := range pre.Pretokenizers {
		if m := findMetaspace(&pre.Pretokenizers[i]); m != nil {
			return m
		}
	}
	return nil
}

func (m *metaspace) split(text string, first bool) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, " ", m.replacement)
	if !strings.HasPrefix(text, m.replacement) {
		switch m.scheme {
		case "always":
			text = m.replacement + text
		case "first":
			if first {
				text = m.replacement + text
			}
		}
	}
	if !m.splitWords {
		return []string{text}
	}
	var words []string
	start := 0
	for i := 1; i < len(text); i++ {
		if strings.HasPrefix(text[i:], m.replacement) {
			words = append(words, text[start:i])
			start = i
		}
	}
	return append(words, text[start:])
}
