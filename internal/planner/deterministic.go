// File: internal/planner/deterministic.go
package planner

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
)

// The deterministic planner is the last non-terminal stage of the resolution
// chain: a rule table mapping (goal, step) to a safe next action. It never
// fails and never depends on an inference backend. Each rule is independently
// testable with literal goal strings.

const (
	// genericAnchorSelector is clicked on step 1 after opening an explicit URL.
	genericAnchorSelector = "a[href]"
	// genericResultSelector targets the first organic result on a web search page.
	genericResultSelector = "#search a h3, #rso a h3"
	// mainContentSelector is used by extraction steps.
	mainContentSelector = "main, #content, body"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\bhttps?://\S+`)
	hostnamePattern = regexp.MustCompile(`(?i)\b([a-z0-9][a-z0-9-]*\.)+(com|org|net|io|in|co|dev|ai|gov|edu)\b(/\S*)?`)
	searchPattern   = regexp.MustCompile(`(?i)\b(?:search for|find|look up|lookup)\s+(.+)`)
	pricePattern    = regexp.MustCompile(`(?i)(.+?)\s+(?:under|below|less than)\s+(\d[\d,]*)\s*(?:rupees|rs\.?|inr|dollars|usd|\$|₹)`)
)

// vendorRule maps a vendor hint in the goal to that vendor's search URL and
// result selector. Hints and selectors follow the sites the original task
// router targeted.
type vendorRule struct {
	hints          []string
	name           string
	searchURL      func(query string) string
	resultSelector string
}

var vendorRules = []vendorRule{
	{
		hints: []string{"amazon"},
		name:  "amazon",
		searchURL: func(q string) string {
			return "https://www.amazon.in/s?k=" + url.QueryEscape(q)
		},
		resultSelector: "div.s-main-slot a.a-link-normal",
	},
	{
		hints: []string{"flipkart"},
		name:  "flipkart",
		searchURL: func(q string) string {
			return "https://www.flipkart.com/search?q=" + url.QueryEscape(q)
		},
		resultSelector: "div[data-id] a",
	},
	{
		hints: []string{"bookmyshow", "movie", "tickets", "showtime", "cinema"},
		name:  "bookmyshow",
		searchURL: func(q string) string {
			return "https://in.bookmyshow.com/explore/home?q=" + url.QueryEscape(q)
		},
		resultSelector: "section a",
	},
	{
		hints: []string{"flight", "flights", "train", "hotel", "hotels", "trip"},
		name:  "google-flights",
		searchURL: func(q string) string {
			return "https://www.google.com/travel/flights?q=" + url.QueryEscape(q)
		},
		resultSelector: "div[role='main'] a",
	},
	{
		hints: []string{"restaurant", "restaurants", "cafe", "cafes", "food", "dinner", "lunch", "breakfast"},
		name:  "google-maps",
		searchURL: func(q string) string {
			return "https://www.google.com/maps/search/" + url.PathEscape(q)
		},
		resultSelector: "div[role='main'] a",
	},
}

// siteMentions are bare site names that trigger a site: filter on the generic
// web-search rule when they appear in the goal without a full hostname.
var siteMentions = map[string]string{
	"youtube":       "youtube.com",
	"reddit":        "reddit.com",
	"wikipedia":     "wikipedia.org",
	"github":        "github.com",
	"stackoverflow": "stackoverflow.com",
}

// Plan maps (goal, step) to a safe next action. It never fails; exhausted
// rule sequences end in a finish action.
func Plan(goal string, step int, allowlist []string) schemas.Action {
	goal = strings.TrimSpace(goal)
	lower := strings.ToLower(goal)

	// Rule 1a: the goal names an explicit scheme-qualified URL.
	if m := urlPattern.FindString(goal); m != "" {
		return explicitURLPlan(strings.TrimRight(m, ".,;)"), step)
	}

	// Rule 2: a search/find phrasing combined with a vendor hint. Checked
	// before the bare-hostname rule so "find wireless mouse on amazon.in"
	// routes to the vendor search rather than the vendor homepage.
	if m := searchPattern.FindStringSubmatch(goal); m != nil {
		if rule := matchVendor(lower); rule != nil {
			query := stripVendorMention(m[1], rule)
			switch step {
			case 0:
				return schemas.Action{Kind: schemas.ActionOpenTab, URL: rule.searchURL(query)}
			case 1:
				return schemas.Action{Kind: schemas.ActionClick, Selector: rule.resultSelector}
			case 2:
				return schemas.Action{Kind: schemas.ActionExtract, Selector: mainContentSelector}
			default:
				return finishAction(fmt.Sprintf("%s plan exhausted", rule.name))
			}
		}
	}

	// Rule 1b: the goal names a bare hostname.
	if m := hostnamePattern.FindString(goal); m != "" {
		return explicitURLPlan("https://"+strings.TrimRight(m, ".,;)"), step)
	}

	// Rule 3: an item with a price ceiling ("X under N rupees").
	if m := pricePattern.FindStringSubmatch(goal); m != nil {
		query := normalizeQuery(m[1] + " under " + m[2] + " rupees")
		switch step {
		case 0:
			return schemas.Action{Kind: schemas.ActionOpenTab, URL: webSearchURL(query)}
		case 1:
			return schemas.Action{Kind: schemas.ActionClick, Selector: genericResultSelector}
		default:
			return finishAction("price-ceiling plan exhausted")
		}
	}

	// Rule 4: generic web search over the full goal text, with an optional
	// site: filter when the goal (or a single-domain allowlist) names a site.
	query := normalizeQuery(goal)
	if site := detectSite(lower, allowlist); site != "" {
		query += " site:" + site
	}
	switch step {
	case 0:
		return schemas.Action{Kind: schemas.ActionOpenTab, URL: webSearchURL(query)}
	case 1:
		return schemas.Action{Kind: schemas.ActionClick, Selector: genericResultSelector}
	case 2:
		return schemas.Action{Kind: schemas.ActionExtract, Selector: mainContentSelector}
	default:
		return finishAction("web-search plan exhausted")
	}
}

// explicitURLPlan is the three-step sequence for goals naming a concrete
// target: open it, click into it, finish.
func explicitURLPlan(target string, step int) schemas.Action {
	switch step {
	case 0:
		return schemas.Action{Kind: schemas.ActionOpenTab, URL: target}
	case 1:
		return schemas.Action{Kind: schemas.ActionClick, Selector: genericAnchorSelector}
	default:
		return finishAction("explicit-url plan exhausted")
	}
}

func matchVendor(lowerGoal string) *vendorRule {
	for i := range vendorRules {
		for _, hint := range vendorRules[i].hints {
			if strings.Contains(lowerGoal, hint) {
				return &vendorRules[i]
			}
		}
	}
	return nil
}

// stripVendorMention removes trailing "on <vendor>" phrasing so the search
// query carries only the item ("find wireless mouse on amazon.in" -> "wireless mouse").
func stripVendorMention(query string, rule *vendorRule) string {
	lower := strings.ToLower(query)
	for _, hint := range rule.hints {
		if idx := strings.Index(lower, " on "+hint); idx >= 0 {
			return normalizeQuery(query[:idx])
		}
		if idx := strings.Index(lower, " in "+hint); idx >= 0 {
			return normalizeQuery(query[:idx])
		}
		if idx := strings.Index(lower, hint); idx >= 0 {
			return normalizeQuery(query[:idx] + query[idx+len(hint):])
		}
	}
	return normalizeQuery(query)
}

func detectSite(lowerGoal string, allowlist []string) string {
	for name, domain := range siteMentions {
		if strings.Contains(lowerGoal, name) {
			return domain
		}
	}
	if len(allowlist) == 1 {
		return strings.TrimPrefix(strings.ToLower(allowlist[0]), "*.")
	}
	return ""
}

func webSearchURL(query string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(query)
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func finishAction(reason string) schemas.Action {
	return schemas.Action{Kind: schemas.ActionFinish, Reason: reason}
}
