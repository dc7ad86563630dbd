package storage

import (
	"context"
	"fmt"

	"github.com/marketcompass/reconciler/internal/patterns"
)

// PatternPhraseStore reads/writes admin-curated phrase rows.
type PatternPhraseStore struct{ db Querier }

func NewPatternPhraseStore(db Querier) *PatternPhraseStore { return &PatternPhraseStore{db: db} }

// LoadEnabled returns every enabled phrase row, for merging with the
// compiled-in defaults via patterns.LoadBundle.
func (s *PatternPhraseStore) LoadEnabled(ctx context.Context) ([]patterns.AdminPhrase, error) {
	rows, err := s.db.Query(ctx, `SELECT kind, phrase FROM pattern_phrases WHERE enabled = true ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: load enabled phrases: %w", err)
	}
	defer rows.Close()

	var out []patterns.AdminPhrase
	for rows.Next() {
		var kind, phrase string
		if err := rows.Scan(&kind, &phrase); err != nil {
			return nil, fmt.Errorf("storage: scan phrase: %w", err)
		}
		out = append(out, patterns.AdminPhrase{Kind: patterns.Kind(kind), Phrase: phrase})
	}
	return out, rows.Err()
}

// Promote inserts a new enabled phrase row for a kind, used by the admin
// promotion helper once a suggestion has been reviewed.
func (s *PatternPhraseStore) Promote(ctx context.Context, kind patterns.Kind, phrase string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pattern_phrases (kind, phrase) VALUES ($1, $2)
		ON CONFLICT (kind, phrase) DO UPDATE SET enabled = true`, string(kind), phrase)
	if err != nil {
		return fmt.Errorf("storage: promote phrase: %w", err)
	}
	return nil
}

// PatternSuggestionStore manages the suggester's upsert-only output.
type PatternSuggestionStore struct{ db Querier }

func NewPatternSuggestionStore(db Querier) *PatternSuggestionStore {
	return &PatternSuggestionStore{db: db}
}

// SuggestionUpsertInput is one scored suggestion from a single suggester run.
type SuggestionUpsertInput struct {
	Kind            patterns.Kind
	Phrase          string
	MatchCount      int
	LLMConfidence   float64
	SampleSize      int
	ExamplesJSON    []byte
	RunID           string
}

// Upsert writes match_count_last/sample_size_last/llm_confidence_last
// unconditionally and bumps the *_max columns monotonically.
func (s *PatternSuggestionStore) Upsert(ctx context.Context, in SuggestionUpsertInput) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pattern_suggestions (
			kind, phrase, match_count_last, match_count_max, llm_confidence_last, llm_confidence_max,
			sample_size_last, examples_json, last_run_id, last_seen_at
		) VALUES ($1,$2,$3,$3,$4,$4,$5,$6,$7,now())
		ON CONFLICT (kind, phrase) DO UPDATE SET
			match_count_last = EXCLUDED.match_count_last,
			match_count_max = GREATEST(pattern_suggestions.match_count_max, EXCLUDED.match_count_last),
			llm_confidence_last = EXCLUDED.llm_confidence_last,
			llm_confidence_max = GREATEST(pattern_suggestions.llm_confidence_max, EXCLUDED.llm_confidence_last),
			sample_size_last = EXCLUDED.sample_size_last,
			examples_json = EXCLUDED.examples_json,
			last_run_id = EXCLUDED.last_run_id,
			last_seen_at = now()`,
		string(in.Kind), in.Phrase, in.MatchCount, in.LLMConfidence, in.SampleSize, in.ExamplesJSON, in.RunID)
	if err != nil {
		return fmt.Errorf("storage: upsert suggestion: %w", err)
	}
	return nil
}

// MarkPromoted stamps promoted_at once an admin has accepted a
// suggestion into pattern_phrases.
func (s *PatternSuggestionStore) MarkPromoted(ctx context.Context, kind patterns.Kind, phrase string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE pattern_suggestions SET promoted_at = now() WHERE kind = $1 AND phrase = $2`,
		string(kind), phrase)
	if err != nil {
		return fmt.Errorf("storage: mark suggestion promoted: %w", err)
	}
	return nil
}
