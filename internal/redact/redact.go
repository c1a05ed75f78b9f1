// Package redact removes PII from OCR page text before it reaches any
// LLM, per spec.md §4.3. Pages are redacted independently and in
// parallel, bounded at 8 concurrent entity-detection calls, grounded on
// the pack's errgroup-based bounded-fan-out idiom (golang.org/x/sync),
// here using that module's semaphore submodule directly since each
// page's worker returns a result rather than only an error.
package redact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/The-Burnes-Center/ai-iep-sub000/internal/types"
)

// maxConcurrentPages bounds parallel entity-detection calls per spec §4.3.
const maxConcurrentPages = 8

// Entity is one PII span an EntityDetector finds in a page's text.
type Entity struct {
	Type         string
	BeginOffset  int
	EndOffset    int
}

// EntityDetector is the abstract external PII entity-detection service.
type EntityDetector interface {
	// Detect returns every PII entity found in text, annotated with the
	// language code to disambiguate locale-specific patterns (dates,
	// names).
	Detect(ctx context.Context, text, languageCode string) ([]Entity, error)
}

// Stats is the aggregate redaction result spec §4.3 calls for. Logged,
// not required by any invariant.
type Stats struct {
	TotalEntities          int
	RedactedEntities       int
	EntityTypes            []string
	ProcessingTimeSeconds  float64
}

// Redactor applies an allow-list PII redaction pass over OCR page text.
type Redactor struct {
	detector  EntityDetector
	allowList map[string]bool
}

// New constructs a Redactor. allowedEntityTypes are never redacted even
// when detected (spec default: {NAME, DATE_TIME}, from
// ALLOWED_PII_ENTITY_TYPES).
func New(detector EntityDetector, allowedEntityTypes []string) *Redactor {
	allow := make(map[string]bool, len(allowedEntityTypes))
	for _, t := range allowedEntityTypes {
		allow[t] = true
	}
	return &Redactor{detector: detector, allowList: allow}
}

// Redact runs entity detection and substring replacement over every
// page of result, preserving its page-indexed shape, and returns the
// redacted copy plus aggregate stats. Empty pages pass through
// unchanged. languageCode is passed to the detector for every page.
func (r *Redactor) Redact(ctx context.Context, result *types.OCRResult, languageCode string) (*types.OCRResult, Stats, error) {
	start := time.Now()
	pages := result.Pages

	redactedPages := make([]types.OCRPage, len(pages))
	pageStats := make([]pageResult, len(pages))

	sem := semaphore.NewWeighted(maxConcurrentPages)
	errCh := make(chan error, len(pages))
	done := make(chan int, len(pages))

	for i, page := range pages {
		i, page := i, page
		if page.Content == "" {
			redactedPages[i] = page
			done <- i
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, Stats{}, fmt.Errorf("redact: acquire semaphore: %w", err)
		}
		go func() {
			defer sem.Release(1)
			redacted, stats, err := r.redactPage(ctx, page, languageCode)
			if err != nil {
				errCh <- fmt.Errorf("redact: page %d: %w", page.Index, err)
				return
			}
			redactedPages[i] = redacted
			pageStats[i] = stats
			done <- i
		}()
	}

	for completed := 0; completed < len(pages); completed++ {
		select {
		case err := <-errCh:
			return nil, Stats{}, err
		case <-done:
		}
	}

	stats := aggregateStats(pageStats, time.Since(start))
	return &types.OCRResult{Pages: redactedPages}, stats, nil
}

type pageResult struct {
	total      int
	redacted   int
	entityTypes map[string]bool
}

// redactPage detects entities in one page and replaces every
// non-allow-listed entity's substring with "[<ENTITY_TYPE>]", adjusting
// offsets cumulatively as replacements change the string's length.
func (r *Redactor) redactPage(ctx context.Context, page types.OCRPage, languageCode string) (types.OCRPage, pageResult, error) {
	entities, err := r.detector.Detect(ctx, page.Content, languageCode)
	if err != nil {
		return types.OCRPage{}, pageResult{}, err
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].BeginOffset < entities[j].BeginOffset })

	result := pageResult{entityTypes: map[string]bool{}}
	content := page.Content
	offsetDelta := 0

	for _, e := range entities {
		result.total++
		result.entityTypes[e.Type] = true
		if r.allowList[e.Type] {
			continue
		}

		begin := e.BeginOffset + offsetDelta
		end := e.EndOffset + offsetDelta
		if begin < 0 || end > len(content) || begin > end {
			continue // out-of-range offset from a stale/overlapping detection; skip rather than corrupt the page
		}

		replacement := "[" + e.Type + "]"
		content = content[:begin] + replacement + content[end:]
		offsetDelta += len(replacement) - (end - begin)
		result.redacted++
	}

	return types.OCRPage{Index: page.Index, Content: content}, result, nil
}

func aggregateStats(pageStats []pageResult, elapsed time.Duration) Stats {
	entityTypeSet := map[string]bool{}
	var total, redacted int
	for _, p := range pageStats {
		total += p.total
		redacted += p.redacted
		for t := range p.entityTypes {
			entityTypeSet[t] = true
		}
	}
	entityTypes := make([]string, 0, len(entityTypeSet))
	for t := range entityTypeSet {
		entityTypes = append(entityTypes, t)
	}
	sort.Strings(entityTypes)

	return Stats{
		TotalEntities:         total,
		RedactedEntities:      redacted,
		EntityTypes:           entityTypes,
		ProcessingTimeSeconds: elapsed.Seconds(),
	}
}
