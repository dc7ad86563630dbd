// Package suggest implements the periodic pattern-phrase suggester: a
// bounded-concurrent LLM fan-out over a sample of the raw buffer,
// scored by literal substring match count, persisted for admin review.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/marketcompass/reconciler/internal/cache"
	"github.com/marketcompass/reconciler/internal/keys"
	"github.com/marketcompass/reconciler/internal/llmretry"
	"github.com/marketcompass/reconciler/internal/patterns"
	"github.com/marketcompass/reconciler/internal/storage"
)

// Options scopes one suggester invocation.
type Options struct {
	SampleLimit    int // [50, 2000]
	LLMBatches     int // [1, 4]
	ItemsPerBatch  int // [20, 80]
	ForceRefresh   bool
}

// Suggestion is one scored, deduped phrase proposal for a kind.
type Suggestion struct {
	Phrase        string   `json:"phrase"`
	MatchCount    int      `json:"match_count"`
	LLMConfidence float64  `json:"llm_confidence,omitempty"`
	Examples      []string `json:"examples"`
}

// Result is the suggester's per-kind output for one run.
type Result struct {
	Cached  bool                     `json:"cached"`
	RunID   string                   `json:"run_id"`
	ByKind  map[patterns.Kind][]Suggestion `json:"by_kind"`
}

type batchItem struct {
	Title string
	Link  string
}

type batchProposal struct {
	Phrase     string  `json:"phrase"`
	Confidence float64 `json:"confidence"`
}

type batchResponse struct {
	Contract             []batchProposal `json:"contract"`
	ConditionNew         []batchProposal `json:"condition_new"`
	ConditionUsed        []batchProposal `json:"condition_used"`
	ConditionRefurbished []batchProposal `json:"condition_refurbished"`
}

// Suggester fans out phrase-proposal batches and scores the merged
// result against the same sample they were drawn from.
type Suggester struct {
	raws  *storage.RawOfferStore
	cache cache.Cache
	retry *llmretry.Wrapper

	maxConcurrency int
	log            zerolog.Logger
}

// New builds a Suggester. maxConcurrency bounds in-flight batch calls
// (the spec's counting semaphore, 1–8, default 2).
func New(raws *storage.RawOfferStore, c cache.Cache, llm llms.Model, maxConcurrency int, log zerolog.Logger) *Suggester {
	log = log.With().Str("component", "suggest").Logger()
	return &Suggester{
		raws: raws, cache: c,
		retry:          llmretry.New(llm, llmretry.DefaultConfig(), log),
		maxConcurrency: maxConcurrency,
		log:            log,
	}
}

// Run samples the raw buffer, proposes phrases via bounded-concurrent LLM
// batches, scores them by substring match against the sample, and
// upserts into PatternSuggestion via store.
func (s *Suggester) Run(ctx context.Context, opts Options, store *storage.PatternSuggestionStore, runID string) (*Result, error) {
	opts.SampleLimit = min(max(opts.SampleLimit, 50), 2000)
	opts.LLMBatches = min(max(opts.LLMBatches, 1), 4)
	opts.ItemsPerBatch = min(max(opts.ItemsPerBatch, 20), 80)

	rows, err := s.raws.SampleRecent(ctx, opts.SampleLimit)
	if err != nil {
		return nil, fmt.Errorf("suggest: sample recent: %w", err)
	}
	items := make([]batchItem, len(rows))
	for i, r := range rows {
		items[i] = batchItem{Title: r.RawTitle, Link: r.ProductLink}
	}

	fp := sampleFingerprint(items)
	cacheKey := cache.Key(cache.PrefixSuggest, fp)

	if !opts.ForceRefresh {
		var cached Result
		if ok, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			cached.Cached = true
			return &cached, nil
		}
	}

	lockKey := cache.Key(cache.PrefixSuggestLock, fp)
	acquired, err := s.cache.AcquireLock(ctx, lockKey, cache.SuggestLockTTL)
	if err != nil {
		return nil, fmt.Errorf("suggest: acquire lock: %w", err)
	}
	if !acquired {
		var cached Result
		if ok, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			cached.Cached = true
			return &cached, nil
		}
		return nil, fmt.Errorf("suggest: locked by another worker and no cached result available")
	}
	defer func() { _ = s.cache.ReleaseLock(ctx, lockKey) }()

	if !opts.ForceRefresh {
		var cached Result
		if ok, err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			cached.Cached = true
			return &cached, nil
		}
	}

	batches := splitBatches(items, opts.LLMBatches, opts.ItemsPerBatch)
	responses := s.fanOut(ctx, batches)

	merged := mergeResponses(responses)
	scored := scoreAll(merged, items)

	result := &Result{RunID: runID, ByKind: scored}

	for kind, suggestions := range scored {
		for _, sg := range suggestions {
			examplesJSON, _ := json.Marshal(sg.Examples)
			if err := store.Upsert(ctx, storage.SuggestionUpsertInput{
				Kind: kind, Phrase: sg.Phrase, MatchCount: sg.MatchCount,
				LLMConfidence: sg.LLMConfidence, SampleSize: len(items),
				ExamplesJSON: examplesJSON, RunID: runID,
			}); err != nil {
				s.log.Warn().Err(err).Str("phrase", sg.Phrase).Msg("failed to upsert suggestion")
			}
		}
	}

	_ = s.cache.SetJSON(ctx, cacheKey, result, cache.PatternSuggestTTL)
	return result, nil
}

func sampleFingerprint(items []batchItem) string {
	var b strings.Builder
	capped := items
	if len(capped) > 100 {
		capped = capped[:100]
	}
	for _, it := range capped {
		b.WriteString(it.Title)
		b.WriteByte('\x00')
		b.WriteString(it.Link)
		b.WriteByte('\x00')
	}
	return keys.HashHex(b.String(), 40)
}

func splitBatches(items []batchItem, numBatches, itemsPerBatch int) [][]batchItem {
	if numBatches < 1 {
		numBatches = 1
	}
	if len(items) == 0 {
		return nil
	}
	step := len(items) / numBatches
	if step == 0 {
		step = len(items)
	}

	var batches [][]batchItem
	for i := 0; i < len(items); i += step {
		end := i + step
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]
		if len(batch) > itemsPerBatch {
			batch = batch[:itemsPerBatch]
		}
		if len(batch) > 0 {
			batches = append(batches, batch)
		}
		if len(batches) >= numBatches {
			break
		}
	}
	return batches
}

// fanOut runs each batch concurrently under a counting semaphore. A
// failed batch logs and contributes nothing rather than failing the run,
// matching the "errors in any single batch never fail the run if ≥1
// batch succeeded" contract.
func (s *Suggester) fanOut(ctx context.Context, batches [][]batchItem) []batchResponse {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var responses []batchResponse

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, b []batchItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := s.runBatch(ctx, b)
			if err != nil {
				s.log.Warn().Err(err).Int("batch", idx).Msg("suggestion batch failed")
				return
			}
			mu.Lock()
			responses = append(responses, resp)
			mu.Unlock()
		}(i, batch)
	}
	wg.Wait()
	return responses
}

func (s *Suggester) runBatch(ctx context.Context, batch []batchItem) (batchResponse, error) {
	prompt := buildBatchPrompt(batch)

	resp, err := s.retry.GenerateContent(ctx, []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextPart(prompt)}},
	}, llms.WithJSONMode())
	if err != nil {
		return batchResponse{}, fmt.Errorf("suggest: generate content: %w", err)
	}

	text := ""
	if resp != nil && len(resp.Choices) > 0 {
		text = resp.Choices[0].Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return batchResponse{}, fmt.Errorf("suggest: empty content (model spent all tokens on hidden reasoning)")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return batchResponse{}, fmt.Errorf("suggest: no json object in batch response")
	}

	var parsed batchResponse
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return batchResponse{}, fmt.Errorf("suggest: malformed batch response: %w", err)
	}
	return parsed, nil
}

func buildBatchPrompt(batch []batchItem) string {
	var b strings.Builder
	b.WriteString("You are proposing literal phrase detectors for a marketplace listing classifier.\n")
	b.WriteString("Given the listing titles and links below, propose phrases (not regex, literal substrings only) that indicate:\n")
	b.WriteString("- contract: a carrier contract/installment-plan listing\n")
	b.WriteString("- condition_new / condition_used / condition_refurbished: the item's condition\n\n")
	for _, it := range batch {
		fmt.Fprintf(&b, "- TITLE: %s | LINK: %s\n", it.Title, it.Link)
	}
	b.WriteString(`
Respond with exactly one JSON object:
{"contract": [{"phrase": "...", "confidence": 0.0}], "condition_new": [...], "condition_used": [...], "condition_refurbished": [...]}
`)
	return b.String()
}

func mergeResponses(responses []batchResponse) map[patterns.Kind][]batchProposal {
	merged := map[patterns.Kind][]batchProposal{
		patterns.KindContract:             {},
		patterns.KindConditionNew:         {},
		patterns.KindConditionUsed:        {},
		patterns.KindConditionRefurbished: {},
	}
	for _, r := range responses {
		merged[patterns.KindContract] = append(merged[patterns.KindContract], r.Contract...)
		merged[patterns.KindConditionNew] = append(merged[patterns.KindConditionNew], r.ConditionNew...)
		merged[patterns.KindConditionUsed] = append(merged[patterns.KindConditionUsed], r.ConditionUsed...)
		merged[patterns.KindConditionRefurbished] = append(merged[patterns.KindConditionRefurbished], r.ConditionRefurbished...)
	}

	for kind, proposals := range merged {
		merged[kind] = dedupeProposals(proposals, 30)
	}
	return merged
}

// dedupeProposals normalizes phrases, keeps the max confidence seen per
// phrase, and caps at maxKeep.
func dedupeProposals(proposals []batchProposal, maxKeep int) []batchProposal {
	best := map[string]float64{}
	var order []string
	for _, p := range proposals {
		phrase := strings.ToLower(strings.TrimSpace(p.Phrase))
		if len(phrase) < 2 || len(phrase) > 80 {
			continue
		}
		if _, seen := best[phrase]; !seen {
			order = append(order, phrase)
		}
		if p.Confidence > best[phrase] {
			best[phrase] = p.Confidence
		}
	}
	out := make([]batchProposal, 0, len(order))
	for _, phrase := range order {
		out = append(out, batchProposal{Phrase: phrase, Confidence: best[phrase]})
	}
	if len(out) > maxKeep {
		out = out[:maxKeep]
	}
	return out
}

// scoreAll scores each proposed phrase by literal substring count against
// the sample (title or URL-hint hit), drops zero-hit phrases, and keeps
// the top 25 per kind.
func scoreAll(merged map[patterns.Kind][]batchProposal, items []batchItem) map[patterns.Kind][]Suggestion {
	out := make(map[patterns.Kind][]Suggestion, len(merged))
	for kind, proposals := range merged {
		var scored []Suggestion
		for _, p := range proposals {
			count, examples := scorePhrase(p.Phrase, items)
			if count == 0 {
				continue
			}
			scored = append(scored, Suggestion{
				Phrase: p.Phrase, MatchCount: count, LLMConfidence: p.Confidence, Examples: examples,
			})
		}
		sortByCountDesc(scored)
		if len(scored) > 25 {
			scored = scored[:25]
		}
		out[kind] = scored
	}
	return out
}

func scorePhrase(phrase string, items []batchItem) (int, []string) {
	count := 0
	var examples []string
	for _, it := range items {
		haystack := patterns.Haystack(it.Title, it.Link)
		if strings.Contains(haystack, phrase) {
			count++
			if len(examples) < 3 {
				examples = append(examples, it.Title)
			}
		}
	}
	return count, examples
}

func sortByCountDesc(s []Suggestion) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].MatchCount > s[j-1].MatchCount; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
