package schemas

// -- Verification Models --
// These types are the wire contract between the served detector script and
// the verdict endpoint. Field names are fixed; the script emits them verbatim.

// ClientChecks carries the raw boolean/list outcomes of the client-side
// probes, independent of the client's own scoring. The server re-scores
// selected checks so a tampered clientScore cannot mask a positive probe.
type ClientChecks struct {
	Webdriver bool     `json:"webdriver"`
	CDP       bool     `json:"cdp"`
	Headless  []string `json:"headless"`
	Navigator []string `json:"navigator"`
	Artifacts []string `json:"artifacts"`
}

// URLParams lets the page pass through a path and query override for the
// revealed redirect target.
type URLParams struct {
	Path  string `json:"path"`
	Query string `json:"query"`
}

// VerifyHumanRequest is the payload posted by the detector script.
// Fingerprint and Behaviors are required; requests lacking either are
// rejected before any scoring happens.
type VerifyHumanRequest struct {
	Fingerprint map[string]interface{} `json:"fingerprint"`
	Behaviors   map[string]interface{} `json:"behaviors"`
	ClientScore float64                `json:"clientScore"`
	Signals     []string               `json:"signals"`
	Checks      ClientChecks           `json:"checks"`
	URLParams   URLParams              `json:"urlParams"`
}

// VerifyHumanResponse is the gate decision. The shape is identical for
// allowed and denied visitors; only RedirectURL distinguishes them, and it is
// explicitly null when the target is withheld.
type VerifyHumanResponse struct {
	Allowed     bool     `json:"allowed"`
	Verdict     string   `json:"verdict"`
	Score       int      `json:"score"`
	Signals     []string `json:"signals"`
	RedirectURL *string  `json:"redirectUrl"`
}

// -- Challenge Models --

// ChallengeResponse is the issued proof-of-work challenge.
type ChallengeResponse struct {
	Challenge  string `json:"challenge"`
	Difficulty int    `json:"difficulty"`
	Timestamp  int64  `json:"timestamp"`
}

// PowVerifyRequest is a submitted proof-of-work solution. Pointer fields make
// absent keys distinguishable from zero values; all three are required.
type PowVerifyRequest struct {
	Challenge *string `json:"challenge"`
	Nonce     *string `json:"nonce"`
	Timestamp *int64  `json:"timestamp"`
}

// PowVerifyResponse reports the outcome of a solution check. Reason is only
// populated for expired challenges.
type PowVerifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// -- Error Model --

// ErrorResponse is the generic error body for malformed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
