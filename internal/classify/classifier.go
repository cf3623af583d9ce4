// Package classify scores inbound HTTP requests from server-observed
// evidence alone: user agent shape, header plausibility, and request rate.
package classify

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/botsig"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/ratelimit"
)

// Defines the minimum user agent length considered a real declaration.
const minUserAgentLength = 5

// DefaultHardBlockAt is the server score at which a request is refused before
// any client script is served.
const DefaultHardBlockAt = 80

// Request is the server-observed slice of an HTTP request the classifier
// consumes. It is deliberately small so tests can fabricate requests without
// an HTTP stack.
type Request struct {
	UserAgent string
	IP        string
	Header    http.Header
}

// FromHTTP extracts a classifier request from a live request. The remote
// address must already be resolved to a bare IP by the transport layer.
func FromHTTP(r *http.Request, ip string) Request {
	return Request{
		UserAgent: r.UserAgent(),
		IP:        ip,
		Header:    r.Header,
	}
}

// Result is the classifier's report. HardBlock means the gate must answer
// with the inert success page and never serve the detector script; callers
// own that behavior, the classifier only decides.
type Result struct {
	Score     *botsig.ScoreRecord
	HardBlock bool
}

// Classifier applies the server-side signal catalog to requests. It is
// stateless apart from the shared rate limiter and safe for concurrent use.
type Classifier struct {
	limiter     *ratelimit.Limiter
	rateCeiling int
	hardBlockAt int
	log         *zap.Logger
}

// New returns a classifier backed by the given limiter. rateCeiling is the
// per-window request count above which the rate signal fires.
func New(limiter *ratelimit.Limiter, rateCeiling int, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{
		limiter:     limiter,
		rateCeiling: rateCeiling,
		hardBlockAt: DefaultHardBlockAt,
		log:         log.Named("classify"),
	}
}

// Inspect scores one request. Signal evaluation order is fixed so identical
// requests always produce identical records.
func (c *Classifier) Inspect(req Request) Result {
	rec := botsig.NewScoreRecord()

	c.checkUserAgent(rec, req.UserAgent)
	c.checkHeaders(rec, req.Header)
	c.checkRate(rec, req.IP)

	res := Result{
		Score:     rec,
		HardBlock: rec.Total() >= c.hardBlockAt,
	}

	if rec.Len() > 0 {
		c.log.Debug("Classified request",
			zap.String("ip", req.IP),
			zap.Int("score", rec.Total()),
			zap.Strings("signals", rec.Names()),
			zap.Bool("hard_block", res.HardBlock))
	}

	return res
}

// checkUserAgent applies either the short-agent signal or the first matching
// pattern group, never both. A sub-minimum agent has nothing meaningful to
// pattern match.
func (c *Classifier) checkUserAgent(rec *botsig.ScoreRecord, userAgent string) {
	ua := strings.TrimSpace(userAgent)
	if len(ua) < minUserAgentLength {
		rec.Add("ua:short", botsig.WeightShortUA)
		return
	}
	if group, ok := botsig.MatchUA(ua); ok {
		rec.Add("ua:"+group, botsig.WeightUAPattern)
	}
}

// checkHeaders applies weak plausibility signals. Browsers always declare an
// Accept-Language; clients that declare Accept-Encoding without gzip or br
// support are not real browsers either. Weak signals are weighted so that on
// their own, or combined with a single pattern signal, they stay below the
// hard-block line.
func (c *Classifier) checkHeaders(rec *botsig.ScoreRecord, header http.Header) {
	if header == nil {
		return
	}
	if header.Get("Accept-Language") == "" {
		rec.Add("hdr:no-accept-language", botsig.WeightHeaderAnomaly)
	}
	if enc := header.Get("Accept-Encoding"); enc != "" {
		lower := strings.ToLower(enc)
		if !strings.Contains(lower, "gzip") && !strings.Contains(lower, "br") {
			rec.Add("hdr:odd-accept-encoding", botsig.WeightHeaderAnomaly)
		}
	}
}

// checkRate consults the shared sliding window. Counts at the ceiling do not
// fire; the first request over it does.
func (c *Classifier) checkRate(rec *botsig.ScoreRecord, ip string) {
	if c.limiter == nil || ip == "" {
		return
	}
	if count := c.limiter.Admit(ip); count > c.rateCeiling {
		rec.Add("rate:exceeded", botsig.WeightRateLimited)
	}
}
