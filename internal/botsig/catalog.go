// Package botsig holds the fixed catalog of bot signals and their weights.
// The catalog is the single source of truth for signal names and scoring
// constants; classifiers and the verdict engine consume it, they never define
// weights of their own.
package botsig

import "regexp"

// Category partitions signals by where they are observed.
type Category string

const (
	// CategoryServer marks signals derived from the raw HTTP request.
	CategoryServer Category = "server"
	// CategoryClient marks signals reported by the in-page detector.
	CategoryClient Category = "client"
)

// Signal is one named detection with its fixed weight.
type Signal struct {
	Name     string
	Weight   int
	Category Category
}

// Server-side weights. These are part of the scoring contract and are not
// configurable at runtime.
const (
	// WeightUAPattern applies when the user agent matches any pattern group.
	WeightUAPattern = 60
	// WeightShortUA applies when the user agent is missing or under five
	// characters after trimming.
	WeightShortUA = 50
	// WeightRateLimited applies when the per-IP window exceeds the ceiling.
	WeightRateLimited = 25
	// WeightHeaderAnomaly applies per weak header-plausibility signal. Weak
	// signals alone can never reach the hard-block line.
	WeightHeaderAnomaly = 10
)

// Server-side re-score bonuses applied from the raw client checks. These fire
// regardless of the client-reported score, so zeroing clientScore in a
// tampered payload does not hide a positive probe.
const (
	BonusWebdriver        = 70
	BonusCDP              = 60
	BonusArtifact         = 50
	BonusHeadlessPair     = 25
	BonusFingerprintReuse = 35
)

// HeadlessPairCount is how many distinct headless anomalies the client must
// report before the headless bonus applies.
const HeadlessPairCount = 2

// PatternGroup is one semantic family of user agent patterns. A single
// compiled expression covers the whole family; group order is fixed and the
// first matching group wins, so scoring is deterministic and never stacks
// across groups.
type PatternGroup struct {
	Name string
	re   *regexp.Regexp
}

// Match reports whether the user agent belongs to this group.
func (g PatternGroup) Match(userAgent string) bool {
	return g.re.MatchString(userAgent)
}

// uaGroups is evaluated in declaration order. Patterns are substrings of real
// agent strings observed in traffic, matched case-insensitively.
var uaGroups = []PatternGroup{
	{
		Name: "email-scanner",
		re:   regexp.MustCompile(`(?i)barracuda|mimecast|proofpoint|urldefense|safelinks|trendmicro|forcepoint|symantec`),
	},
	{
		Name: "headless",
		re:   regexp.MustCompile(`(?i)headlesschrome|phantomjs|slimerjs|htmlunit|splash|electron`),
	},
	{
		Name: "automation",
		re:   regexp.MustCompile(`(?i)selenium|webdriver|puppeteer|playwright|cypress|nightmare|chromedriver`),
	},
	{
		Name: "crawler",
		re:   regexp.MustCompile(`(?i)bot\b|crawler|spider|scrapy|httrack|archive\.org`),
	},
	{
		Name: "http-client",
		re:   regexp.MustCompile(`(?i)curl|wget|python-requests|python-urllib|go-http-client|okhttp|java/|libwww|axios|node-fetch`),
	},
	{
		Name: "monitor",
		re:   regexp.MustCompile(`(?i)uptimerobot|pingdom|statuscake|site24x7|newrelic|datadog`),
	},
}

// MatchUA scans the pattern groups in fixed order and returns the name of the
// first group the user agent matches.
func MatchUA(userAgent string) (string, bool) {
	for _, g := range uaGroups {
		if g.Match(userAgent) {
			return g.Name, true
		}
	}
	return "", false
}

// Groups returns the catalog's pattern group names in evaluation order.
func Groups() []string {
	names := make([]string, len(uaGroups))
	for i, g := range uaGroups {
		names[i] = g.Name
	}
	return names
}
