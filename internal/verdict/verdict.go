// Package verdict merges server and client evidence into a final score and
// decides whether the redirect target is revealed.
package verdict

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/api/schemas"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/botsig"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/ledger"
)

// Verdict is the category a final score falls into.
type Verdict string

const (
	VerdictHuman      Verdict = "human"
	VerdictSuspicious Verdict = "suspicious"
	VerdictLikelyBot  Verdict = "likely-bot"
	VerdictBot        Verdict = "bot"
)

// Score ladder. Thresholds are inclusive lower bounds and part of the
// scoring contract.
const (
	// ThresholdBot marks certain automation.
	ThresholdBot = 100
	// ThresholdLikelyBot marks probable automation; this is also the line
	// above which the target is withheld.
	ThresholdLikelyBot = 80
	// ThresholdSuspicious marks elevated risk that still passes the gate.
	ThresholdSuspicious = 50
)

// ClientScoreFactor discounts the client-reported score before merging; the
// client is the least trustworthy witness of its own humanity.
const ClientScoreFactor = 0.5

// subdomainLabelBytes is the entropy of the per-decision host label; hex
// doubles it to twelve characters.
const subdomainLabelBytes = 6

// Bounds applied to client-supplied values before they enter scoring or are
// echoed into responses and logs. maxClientScore sits far above anything the
// served script can total; a claim outside [0, maxClientScore] is a forgery,
// not a measurement.
const (
	maxClientScore       = 1000
	maxEchoedSignals     = 32
	maxEchoedSignalChars = 64
)

// Submission is the client payload after transport-level validation, ready
// for aggregation.
type Submission struct {
	Fingerprint map[string]interface{}
	Behaviors   map[string]interface{}
	ClientScore float64
	Signals     []string
	Checks      schemas.ClientChecks
	URLParams   schemas.URLParams
}

// Decision is the outcome of one aggregation. RedirectURL is empty exactly
// when Allowed is false.
type Decision struct {
	// ID correlates log lines for one decision; it is never sent to clients.
	ID          string
	Verdict     Verdict
	Score       int
	Signals     []string
	Allowed     bool
	RedirectURL string
}

// Engine aggregates scores against the shared fingerprint ledger. It is safe
// for concurrent use.
type Engine struct {
	ledger *ledger.Ledger
	target string
	log    *zap.Logger
}

// New returns an engine revealing target to visitors that pass the gate.
func New(led *ledger.Ledger, target string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		ledger: led,
		target: target,
		log:    log.Named("verdict"),
	}
}

// Decide merges the server score with the client submission and returns the
// gate decision for the visitor at ip.
//
// The client total enters at half weight after being clamped to
// [0, maxClientScore], so a claim can add risk but never subtract it. Selected
// raw checks are then re-scored server-side at full bonus weight regardless of
// what the client claimed its score was. A check that is true both inflates
// the client total and earns its bonus; that overlap is intentional, positive
// probes should dominate the outcome.
func (e *Engine) Decide(server *botsig.ScoreRecord, sub Submission, ip string) Decision {
	score := server.Total() + int(math.Round(clampClientScore(sub.ClientScore)*ClientScoreFactor))
	signals := server.Names()

	for _, s := range sanitizeSignals(sub.Signals) {
		signals = append(signals, "client:"+s)
	}

	score, signals = e.applyCheckBonuses(score, signals, sub.Checks)
	score, signals = e.applyLedger(score, signals, sub.Fingerprint, ip)

	v := verdictFor(score)
	d := Decision{
		ID:      uuid.New().String(),
		Verdict: v,
		Score:   score,
		Signals: signals,
		Allowed: score < ThresholdLikelyBot,
	}
	if d.Allowed {
		d.RedirectURL = e.buildRedirect(sub.URLParams)
	}

	e.log.Info("Gate decision",
		zap.String("decision_id", d.ID),
		zap.String("ip", ip),
		zap.String("verdict", string(d.Verdict)),
		zap.Int("score", d.Score),
		zap.Bool("allowed", d.Allowed),
		zap.Strings("signals", d.Signals))

	return d
}

// applyCheckBonuses re-scores the raw client checks with fixed server-side
// bonuses.
func (e *Engine) applyCheckBonuses(score int, signals []string, checks schemas.ClientChecks) (int, []string) {
	if checks.Webdriver {
		score += botsig.BonusWebdriver
		signals = append(signals, "check:webdriver")
	}
	if checks.CDP {
		score += botsig.BonusCDP
		signals = append(signals, "check:cdp")
	}
	if len(checks.Artifacts) > 0 {
		score += botsig.BonusArtifact
		signals = append(signals, "check:artifacts")
	}
	if len(checks.Headless) >= botsig.HeadlessPairCount {
		score += botsig.BonusHeadlessPair
		signals = append(signals, "check:headless")
	}
	return score, signals
}

// applyLedger records the fingerprint sighting and penalizes hashes already
// owned by a different address. An empty fingerprint is still a sighting:
// every client stripped down to {} canonicalizes to the same hash and
// correlates accordingly. Only a nil map, which the transport already
// rejects, skips the ledger.
func (e *Engine) applyLedger(score int, signals []string, fingerprint map[string]interface{}, ip string) (int, []string) {
	if e.ledger == nil || fingerprint == nil {
		return score, signals
	}

	raw, err := json.Marshal(fingerprint)
	if err != nil {
		// Map marshaling only fails on unserializable values smuggled past
		// the decoder; score without the ledger signal.
		e.log.Warn("Failed to canonicalize fingerprint", zap.Error(err))
		return score, signals
	}

	obs := e.ledger.Observe(ledger.Hash(raw), ip)
	if obs.Reused {
		score += botsig.BonusFingerprintReuse
		signals = append(signals, "fingerprint-reuse")
	}
	return score, signals
}

// buildRedirect constructs the revealed URL: the configured target with a
// fresh random subdomain label prepended to its host and any page-supplied
// path or query override applied. A target that does not parse is returned
// unmodified; the reveal must never fail once a visitor is allowed.
func (e *Engine) buildRedirect(params schemas.URLParams) string {
	u, err := url.Parse(e.target)
	if err != nil || u.Host == "" {
		if err != nil {
			e.log.Warn("Configured target does not parse, revealing raw value", zap.Error(err))
		}
		return e.target
	}

	label := randomLabel()
	host := label + "." + u.Hostname()
	if port := u.Port(); port != "" {
		host += ":" + port
	}
	u.Host = host

	if p := params.Path; p != "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		u.Path = p
	}
	if q := params.Query; q != "" {
		u.RawQuery = strings.TrimPrefix(q, "?")
	}

	return u.String()
}

// randomLabel returns a fresh lowercase hex label for the cloaking subdomain.
func randomLabel() string {
	buf := make([]byte, subdomainLabelBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in far deeper trouble
		// than label quality; fall back to a fixed label rather than panic.
		return "a0b1c2d3e4f5"
	}
	return hex.EncodeToString(buf)
}

// verdictFor maps a final score onto the ladder.
func verdictFor(score int) Verdict {
	switch {
	case score >= ThresholdBot:
		return VerdictBot
	case score >= ThresholdLikelyBot:
		return VerdictLikelyBot
	case score >= ThresholdSuspicious:
		return VerdictSuspicious
	default:
		return VerdictHuman
	}
}

// clampClientScore bounds the self-reported total to [0, maxClientScore].
// A claim outside the range, or one that is not a number, counts zero or
// caps; it never subtracts from the server-observed evidence.
func clampClientScore(v float64) float64 {
	if !(v > 0) { // also catches NaN
		return 0
	}
	if v > maxClientScore {
		return maxClientScore
	}
	return v
}

// sanitizeSignals bounds client-supplied signal names before they are echoed
// anywhere. Oversized lists are truncated, oversized names clipped, empty
// names dropped.
func sanitizeSignals(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	if len(in) > maxEchoedSignals {
		in = in[:maxEchoedSignals]
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(s) > maxEchoedSignalChars {
			// Clip on a rune boundary so the echoed name stays valid UTF-8.
			cut := maxEchoedSignalChars
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut]
		}
		out = append(out, s)
	}
	return out
}
