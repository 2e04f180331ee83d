// File: internal/runner/score.go
package runner

import (
	"net/url"
	"strings"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/safety"
)

// Goal tokenization and the two scoring functions of the loop: page
// relevance (the early-stop signal) and outbound-link ranking (the local
// planning policy once a snapshot exists). Both are pure: the same inputs
// always produce the same numbers.

const (
	// minTermLength drops stop-word sized tokens from the goal term set.
	minTermLength = 3
	// maxGoalTerms caps the tokenized goal term set.
	maxGoalTerms = 20
)

// GoalTerms tokenizes a goal into its scoring term set: lowercased tokens of
// length >= 3, deduplicated in order of first appearance, capped at 20.
func GoalTerms(goal string) []string {
	fields := strings.FieldsFunc(strings.ToLower(goal), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < minTermLength {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
		if len(terms) == maxGoalTerms {
			break
		}
	}
	return terms
}

// Relevance returns the fraction of goal terms present (case-insensitive
// substring match) in the snapshot's title, meta description and main text.
// Monotonically non-decreasing in the number of terms found; deterministic
// for a fixed (terms, snapshot) pair.
func Relevance(terms []string, snap *schemas.DomSnapshot) float64 {
	if len(terms) == 0 || snap == nil {
		return 0
	}
	haystack := strings.ToLower(snap.Title + " " + snap.MetaDescription + " " + snap.MainText)

	found := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}

// textBonus rewards links that carry visible anchor text.
const textBonus = 0.25

// scoredLink pairs a candidate link with its resolved absolute URL.
type scoredLink struct {
	url   string
	score float64
}

// rankLinks filters and scores the snapshot's outbound links, returning the
// best candidate's absolute URL. ok is false when no candidate survives
// filtering (the loop then completes the run).
//
// Filters, in order: empty hrefs, fragment-only hrefs, already-visited URLs,
// allowlist-blocked hosts. Score: occurrences of each goal term in
// text+href (case-insensitive) plus a 0.25 bonus for non-empty anchor text.
// Ties keep the earliest link, preserving discovery order.
func rankLinks(snap *schemas.DomSnapshot, terms []string, visited map[string]struct{}, allowlist []string) (string, bool) {
	if snap == nil || len(snap.Links) == 0 {
		return "", false
	}

	base, _ := url.Parse(snap.URL)

	var best scoredLink
	var found bool
	for _, link := range snap.Links {
		href := strings.TrimSpace(link.Href)
		if href == "" || strings.HasPrefix(href, "#") {
			continue
		}

		abs := resolveHref(base, href)
		if abs == "" {
			continue
		}
		if _, seen := visited[abs]; seen {
			continue
		}
		if _, seen := visited[normalizeVisited(abs)]; seen {
			continue
		}
		if len(allowlist) > 0 {
			if u, err := url.Parse(abs); err != nil || !safety.HostAllowed(u.Hostname(), allowlist) {
				continue
			}
		}
		if safety.IsRestrictedURL(abs) {
			continue
		}

		score := termOccurrences(link.Text+" "+href, terms)
		if strings.TrimSpace(link.Text) != "" {
			score += textBonus
		}

		// Strict greater-than keeps the earliest link on ties.
		if !found || score > best.score {
			best = scoredLink{url: abs, score: score}
			found = true
		}
	}
	return best.url, found
}

// termOccurrences counts total (possibly overlapping across terms)
// occurrences of the goal terms in the haystack.
func termOccurrences(haystack string, terms []string) float64 {
	lower := strings.ToLower(haystack)
	total := 0
	for _, t := range terms {
		total += strings.Count(lower, t)
	}
	return float64(total)
}

// resolveHref makes href absolute against the snapshot's URL. Non-http(s)
// results are discarded.
func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
