package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// HFTokenizer encodes text with a Hugging Face tokenizer.json BPE model.
// It memoizes BPE results and is not safe for concurrent use.
type HFTokenizer struct {
	flavor       Flavor
	encoder      map[string]int
	decoder      []string
	added        map[string]int
	addedOrder   []string
	bpeRanks     map[Pair]int
	cache        map[string][]string
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pattern      *regexp.Regexp
	normalizers  []normalizeStep
	metaspace    *metaspace
	prefix       []int
	suffix       []int
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	byteFallback bool
	fuseUnk      bool
	mergeCount   int
}

type hfTokenizerJSON struct {
	AddedTokens   []hfAddedToken   `json:"added_tokens"`
	Normalizer    *hfNormalizer    `json:"normalizer"`
	PreTokenizer  *hfPreTokenizer  `json:"pre_tokenizer"`
	PostProcessor *hfPostProcessor `json:"post_processor"`
	Model         struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
		ByteFallback bool           `json:"byte_fallback"`
		FuseUnk      bool           `json:"fuse_unk"`
	} `json:"model"`
}

type hfAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type hfPattern struct {
	String string `json:"String"`
	Regex  string `json:"Regex"`
}

type hfNormalizer struct {
	Type        string         `json:"type"`
	Normalizers []hfNormalizer `json:"normalizers"`
	Prepend     string         `json:"prepend"`
	Pattern     hfPattern      `json:"pattern"`
	Content     string         `json:"content"`
}

type hfPreTokenizer struct {
	Type           string           `json:"type"`
	Pretokenizers  []hfPreTokenizer `json:"pretokenizers"`
	Pattern        hfPattern        `json:"pattern"`
	Replacement    string           `json:"replacement"`
	PrependScheme  string           `json:"prepend_scheme"`
	AddPrefixSpace *bool            `json:"add_prefix_space"`
	Split          *bool            `json:"split"`
}

type hfTemplatePiece struct {
	SpecialToken *struct {
		ID string `json:"id"`
	} `json:"SpecialToken"`
	Sequence *struct {
		ID string `json:"id"`
	} `json:"Sequence"`
}

type hfPostProcessor struct {
	Type          string            `json:"type"`
	Single        []hfTemplatePiece `json:"single"`
	SpecialTokens map[string]struct {
		IDs []int `json:"ids"`
	} `json:"special_tokens"`
	Processors []hfPostProcessor `json:"processors"`
}

type hfTokenizerConfig struct {
	AddBOS *bool           `json:"add_bos_token"`
	AddEOS *bool           `json:"add_eos_token"`
	BOS    json.RawMessage `json:"bos_token"`
	EOS    json.RawMessage `json:"eos_token"`
}

// LoadHFTokenizer reads tokenizer.json and, when tokConfig is non-empty,
// tokenizer_config.json. A missing tokenizer_config.json is not an error.
func LoadHFTokenizer(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read tokenizer_config.json: %w", err)
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

// LoadHFTokenizerBytes builds a tokenizer from raw tokenizer.json and
// optional tokenizer_config.json contents.
func LoadHFTokenizerBytes(tokJSON []byte, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	added := make(map[string]int, len(tj.AddedTokens))
	for _, at := range tj.AddedTokens {
		if at.Content == "" {
			continue
		}
		added[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	if maxID < 0 {
		return nil, fmt.Errorf("parse tokenizer.json: empty vocabulary")
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		if id >= 0 {
			decoder[id] = tok
		}
	}
	for tok, id := range added {
		if id >= 0 {
			decoder[id] = tok
		}
	}

	bpeRanks := parseMerges(tj.Model.Merges)
	byteEncoder, byteDecoder := bytesToUnicode()

	tok := &HFTokenizer{
		flavor:       detectFlavor(&tj),
		encoder:      encoder,
		decoder:      decoder,
		added:        added,
		addedOrder:   longestFirst(added),
		bpeRanks:     bpeRanks,
		cache:        make(map[string][]string),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		normalizers:  buildNormalizers(tj.Normalizer),
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		ignoreMerges: tj.Model.IgnoreMerges,
		byteFallback: tj.Model.ByteFallback,
		fuseUnk:      tj.Model.FuseUnk,
		mergeCount:   len(bpeRanks),
	}
	if tok.flavor == SentencePiece {
		tok.metaspace = findMetaspace(tj.PreTokenizer)
	} else {
		tok.pattern = buildHFPattern(tj.PreTokenizer)
	}
	if tj.Model.UnkToken != "" {
		if id, ok := tok.lookup(tj.Model.UnkToken); ok {
			tok.unkID = id
		}
	}

	if tj.PostProcessor != nil {
		tok.prefix, tok.suffix = templateSpecials(*tj.PostProcessor)
	}
	if len(tok.prefix) > 0 {
		tok.bosID = tok.prefix[0]
	}
	if len(tok.suffix) > 0 {
		tok.eosID = tok.suffix[len(tok.suffix)-1]
	}
	if tok.eosID < 0 {
		for _, cand := range []string{"</s>", "<|endoftext|>", "<|end_of_text|>"} {
			if id, ok := tok.lookup(cand); ok {
				tok.eosID = id
				break
			}
		}
	}

	if len(tokConfig) > 0 {
		var cfg hfTokenizerConfig
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
		tok.applyConfig(cfg)
	}
	return tok, nil
}

func (t *HFTokenizer) applyConfig(cfg hfTokenizerConfig) {
	if id, ok := t.lookup(tokenContent(cfg.BOS)); ok {
		t.bosID = id
	}
	if id, ok := t.lookup(tokenContent(cfg.EOS)); ok {
		t.eosID = id
	}
	if cfg.AddBOS != nil {
		t.prefix = without(t.prefix, t.bosID)
		if *cfg.AddBOS && t.bosID >= 0 {
			t.prefix = append([]int{t.bosID}, t.prefix...)
		}
	}
	if cfg.AddEOS != nil {
		t.suffix = without(t.suffix, t.eosID)
		if *cfg.AddEOS && t.eosID >= 0 {
			t.suffix = append(t.suffix, t.eosID)
		}
	}
}

// Encode returns the token ids for text, including the leading and trailing
// special tokens the tokenizer adds by default.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	enc, err := t.EncodeSpecial(text, true)
	if err != nil {
		return nil, err
	}
	return enc.IDs, nil
}

// EncodeSpecial encodes a single segment. When addSpecial is set the
// post-processor template tokens are added around it.
func (t *HFTokenizer) EncodeSpecial(text string, addSpecial bool) (Encoding, error) {
	var enc Encoding
	push := func(id int) {
		enc.IDs = append(enc.IDs, id)
		enc.Tokens = append(enc.Tokens, t.TokenString(id))
	}

	if addSpecial {
		for _, id := range t.prefix {
			push(id)
		}
	}
	for _, part := range splitSpecials(text, t.addedOrder) {
		if part.isSpecial {
			push(t.added[part.text])
			continue
		}
		for _, word := range t.pretokenize(part.text, part.offset == 0) {
			if err := t.encodeWord(word, push); err != nil {
				return Encoding{}, err
			}
		}
	}
	if addSpecial {
		for _, id := range t.suffix {
			push(id)
		}
	}

	enc.AttentionMask = make([]int, len(enc.IDs))
	for i := range enc.AttentionMask {
		enc.AttentionMask[i] = 1
	}
	return enc, nil
}

func (t *HFTokenizer) pretokenize(text string, first bool) []string {
	if t.flavor == SentencePiece {
		text = applyNormalizers(t.normalizers, text)
		if t.metaspace != nil {
			return t.metaspace.split(text, first)
		}
		if text == "" {
			return nil
		}
		return []string{text}
	}
	text = applyNormalizers(t.normalizers, text)
	words := t.pattern.FindAllString(text, -1)
	for i, w := range words {
		words[i] = t.byteEncode(w)
	}
	return words
}

func (t *HFTokenizer) encodeWord(word string, push func(int)) error {
	lastUnk := false
	for _, sym := range t.bpe(word) {
		if id, ok := t.encoder[sym]; ok {
			push(id)
			lastUnk = false
			continue
		}
		if t.byteFallback {
			if ids, ok := t.byteTokens(sym); ok {
				for _, id := range ids {
					push(id)
				}
				lastUnk = false
				continue
			}
		}
		if t.unkID < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownToken, sym)
		}
		if t.fuseUnk && lastUnk {
			continue
		}
		push(t.unkID)
		lastUnk = true
	}
	return nil
}

func (t *HFTokenizer) byteTokens(sym string) ([]int, bool) {
	ids := make([]int, 0, len(sym))
	for _, b := range []byte(sym) {
		id, ok := t.encoder[byteTokenName(b)]
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// Decode maps ids back to text. Added tokens are emitted verbatim.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if _, ok := t.added[token]; ok {
			b = append(b, token...)
			continue
		}
		if t.flavor == SentencePiece {
			if by, ok := parseByteToken(token); ok {
				b = append(b, by)
				continue
			}
			b = append(b, strings.ReplaceAll(token, spaceMarker, " ")...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	s := string(b)
	if t.flavor == SentencePiece {
		s = strings.TrimPrefix(s, " ")
	}
	return s, nil
}

func (t *HFTokenizer) BOSID() int     { return t.bosID }
func (t *HFTokenizer) EOSID() int     { return t.eosID }
func (t *HFTokenizer) UNKID() int     { return t.unkID }
func (t *HFTokenizer) AddBOS() bool   { return len(t.prefix) > 0 && t.prefix[0] == t.bosID }
func (t *HFTokenizer) Flavor() Flavor { return t.flavor }

// VocabSize is the size of the id space, including added tokens.
func (t *HFTokenizer) VocabSize() int { return len(t.decoder) }

func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// Summary reports the tokenizer's configuration.
func (t *HFTokenizer) Summary() Summary {
	return Summary{
		Model:        "BPE",
		Flavor:       t.flavor,
		VocabSize:    len(t.decoder),
		Merges:       t.mergeCount,
		AddedTokens:  len(t.added),
		ByteFallback: t.byteFallback,
		Prefix:       append([]int(nil), t.prefix...),
		Suffix:       append([]int(nil), t.suffix...),
		UNKTokenID:   t.unkID,
	}
}

func (t *HFTokenizer) lookup(token string) (int, bool) {
	if token == "" {
		return 0, false
	}
	if id, ok := t.added[token]; ok {
		return id, true
	}
	id, ok := t.encoder[token]
	return id, ok
}

func (t *HFTokenizer) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFTokenizer) bpe(token string) []string {
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	for len(word) > 1 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range getPairs(word) {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
	}
	t.cache[token] = word
	return word
}

func parseMerges(raw []any) map[Pair]int {
	ranks := make(map[Pair]int, len(raw))
	rank := 0
	for _, entry := range raw {
		var p Pair
		switch v := entry.(type) {
		case string:
			line := strings.TrimSpace(v)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			a, b, ok := strings.Cut(line, " ")
			if !ok || strings.Contains(b, " ") {
				continue
			}
			p = Pair{A: a, B: b}
		case []any:
			if len(v) != 2 {
				continue
			}
			a, aok := v[0].(string)
			b, bok := v[1].(string)
			if !aok || !bok {
				continue
			}
			p = Pair{A: a, B: b}
		default:
			continue
		}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

// templateSpecials returns the special token ids a TemplateProcessing
// post-processor places before and after a single sequence.
func templateSpecials(pp hfPostProcessor) (prefix, suffix []int) {
	switch pp.Type {
	case "TemplateProcessing":
		seenSeq := false
		for _, piece := range pp.Single {
			switch {
			case piece.Sequence != nil:
				seenSeq = true
			case piece.SpecialToken != nil:
				ids := pp.SpecialTokens[piece.SpecialToken.ID].IDs
				if seenSeq {
					suffix = append(suffix, ids...)
				} else {
					prefix = append(prefix, ids...)
				}
			}
		}
		if len(pp.Single) == 0 {
			// Older files only list special_tokens; treat the first as BOS.
			names := make([]string, 0, len(pp.SpecialTokens))
			for name := range pp.SpecialTokens {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if ids := pp.SpecialTokens[name].IDs; len(ids) > 0 {
					prefix = append(prefix, ids[0])
					break
				}
			}
		}
	case "Sequence":
		for _, proc := range pp.Processors {
			if p, s := templateSpecials(proc); len(p) > 0 || len(s) > 0 {
				return p, s
			}
		}
	}
	return prefix, suffix
}

func detectFlavor(tj *hfTokenizerJSON) Flavor {
	if tj.Model.ByteFallback {
		return SentencePiece
	}
	if findMetaspace(tj.PreTokenizer) != nil {
		return SentencePiece
	}
	for _, step := range buildNormalizers(tj.Normalizer) {
		if strings.Contains(step.replace, spaceMarker) || strings.Contains(step.prepend, spaceMarker) {
			return SentencePiece
		}
	}
	return ByteLevel
}

func buildHFPattern(pre *hfPreTokenizer) *regexp.Regexp {
	// GPT-2 regex without the lookahead Go's regexp cannot express.
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre != nil {
		if split := findSplitRegex(*pre); split != "" {
			pat = split
		}
	}
	// Llama 3 style patterns use lookahead and inline case folding; swap in
	// the equivalent llama.cpp expression.
	if strings.Contains(pat, "(?!\\S)") || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}

func findSplitRegex(pre hfPreTokenizer) string {
	if pre.Type == "Split" && pre.Pattern.Regex != "" {
		return pre.Pattern.Regex
	}
	for _, p := range pre.Pretokenizers {
		if r := findSplitRegex(p); r != "" {
			return r
		}
	}
	return ""
}

func tokenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Content
	}
	return ""
}

func without(ids []int, drop int) []int {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
