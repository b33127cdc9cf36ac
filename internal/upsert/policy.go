// Package upsert decides whether a freshly extracted candidate overwrites the
// stored copy of a catalog record.
package upsert

import (
	"time"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

// DefaultStaleAfter is the staleness window after which a record is
// refreshed even when its content is unchanged.
const DefaultStaleAfter = 30 * 24 * time.Hour

// Decision is the outcome of the policy for one item.
type Decision string

// Policy outcomes. Every outcome other than Skip writes to the record store.
const (
	Insert         Decision = "insert"
	ContentChanged Decision = "content_changed"
	Stale          Decision = "stale"
	Forced         Decision = "forced"
	Skip           Decision = "skip"
)

// Writes reports whether the decision results in a store write.
func (d Decision) Writes() bool {
	return d != Skip
}

// Policy holds the staleness window.
type Policy struct {
	StaleAfter time.Duration
}

// New returns a Policy; a non-positive window falls back to DefaultStaleAfter.
func New(staleAfter time.Duration) Policy {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return Policy{StaleAfter: staleAfter}
}

// Decide checks, in order: no existing record, changed content, staleness,
// and a forced single-task refresh.
func (p Policy) Decide(existing *crawler.Record, cand crawler.Candidate, kind crawler.TaskKind, now time.Time) Decision {
	if existing == nil {
		return Insert
	}
	if contentDiffers(*existing, cand) {
		return ContentChanged
	}
	window := p.StaleAfter
	if window <= 0 {
		window = DefaultStaleAfter
	}
	if now.Sub(existing.UpdatedAt) > window {
		return Stale
	}
	if kind == crawler.TaskKindSingle {
		return Forced
	}
	return Skip
}

func contentDiffers(rec crawler.Record, cand crawler.Candidate) bool {
	return rec.DescriptionPrimary != cand.DescriptionPrimary ||
		rec.DescriptionSecondary != cand.DescriptionSecondary ||
		rec.Content != cand.Content
}

// Apply overwrites the mutable fields of existing with the candidate. ID and
// CreatedAt are kept; UpdatedAt is set to now.
func Apply(existing crawler.Record, cand crawler.Candidate, attrs map[string]any, now time.Time) crawler.Record {
	out := existing
	out.Country = cand.Country
	out.Category = cand.Category
	out.DescriptionPrimary = cand.DescriptionPrimary
	out.DescriptionSecondary = cand.DescriptionSecondary
	out.Content = cand.Content
	out.Attributes = attrs
	out.UpdatedAt = now
	return out
}

// NewRecord builds the record inserted for a candidate seen for the first time.
func NewRecord(cand crawler.Candidate, attrs map[string]any, now time.Time) crawler.Record {
	return crawler.Record{
		Name:                 cand.Name,
		Country:              cand.Country,
		Category:             cand.Category,
		DescriptionPrimary:   cand.DescriptionPrimary,
		DescriptionSecondary: cand.DescriptionSecondary,
		Content:              cand.Content,
		Attributes:           attrs,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Attributes builds the metadata stored alongside a record.
func Attributes(cand crawler.Candidate, taskID int64, kind crawler.TaskKind) map[string]any {
	return map[string]any{
		"url":       cand.SourceURL,
		"task_id":   taskID,
		"task_type": string(kind),
	}
}
