package upsert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func storedRecord(updatedAt time.Time) *crawler.Record {
	return &crawler.Record{
		ID:                   42,
		Name:                 "Historic Centre of Rome",
		Country:              "Italy",
		Category:             crawler.CategoryCultural,
		DescriptionPrimary:   "en",
		DescriptionSecondary: "zh",
		Content:              "body",
		CreatedAt:            updatedAt.Add(-time.Hour),
		UpdatedAt:            updatedAt,
	}
}

func sameCandidate() crawler.Candidate {
	return crawler.Candidate{
		Name:                 "Historic Centre of Rome",
		Country:              "Italy",
		Category:             crawler.CategoryCultural,
		DescriptionPrimary:   "en",
		DescriptionSecondary: "zh",
		Content:              "body",
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	p := New(0)
	fresh := now.Add(-24 * time.Hour)

	changed := sameCandidate()
	changed.Content = "new body"

	tests := []struct {
		name     string
		existing *crawler.Record
		cand     crawler.Candidate
		kind     crawler.TaskKind
		want     Decision
	}{
		{name: "missing record inserts", existing: nil, cand: sameCandidate(), kind: crawler.TaskKindFull, want: Insert},
		{name: "changed content", existing: storedRecord(fresh), cand: changed, kind: crawler.TaskKindFull, want: ContentChanged},
		{name: "content wins over forced", existing: storedRecord(fresh), cand: changed, kind: crawler.TaskKindSingle, want: ContentChanged},
		{name: "stale after 31 days", existing: storedRecord(now.Add(-31 * 24 * time.Hour)), cand: sameCandidate(), kind: crawler.TaskKindFull, want: Stale},
		{name: "exactly 30 days is fresh", existing: storedRecord(now.Add(-30 * 24 * time.Hour)), cand: sameCandidate(), kind: crawler.TaskKindFull, want: Skip},
		{name: "single forces refresh", existing: storedRecord(fresh), cand: sameCandidate(), kind: crawler.TaskKindSingle, want: Forced},
		{name: "unchanged full skips", existing: storedRecord(fresh), cand: sameCandidate(), kind: crawler.TaskKindFull, want: Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, p.Decide(tt.existing, tt.cand, tt.kind, now))
		})
	}
}

func TestDecideClassificationChangeAloneSkips(t *testing.T) {
	t.Parallel()

	cand := sameCandidate()
	cand.Country = "Holy See"
	require.Equal(t, Skip, New(DefaultStaleAfter).Decide(storedRecord(now), cand, crawler.TaskKindFull, now))
}

func TestApplyKeepsIdentity(t *testing.T) {
	t.Parallel()

	existing := *storedRecord(now.Add(-40 * 24 * time.Hour))
	cand := sameCandidate()
	cand.Country = "Italy, Holy See"
	cand.Category = crawler.CategoryMixed
	cand.SourceURL = "https://whc.unesco.org/en/list/91"
	attrs := Attributes(cand, 9, crawler.TaskKindSingle)

	got := Apply(existing, cand, attrs, now)
	require.Equal(t, existing.ID, got.ID)
	require.Equal(t, existing.CreatedAt, got.CreatedAt)
	require.Equal(t, now, got.UpdatedAt)
	require.Equal(t, "Italy, Holy See", got.Country)
	require.Equal(t, crawler.CategoryMixed, got.Category)
	require.Equal(t, "https://whc.unesco.org/en/list/91", got.Attributes["url"])
	require.Equal(t, int64(9), got.Attributes["task_id"])
	require.Equal(t, "single", got.Attributes["task_type"])
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	rec := NewRecord(sameCandidate(), map[string]any{"url": "u"}, now)
	require.Zero(t, rec.ID)
	require.Equal(t, now, rec.CreatedAt)
	require.Equal(t, now, rec.UpdatedAt)
	require.True(t, Insert.Writes())
	require.False(t, Skip.Writes())
}
