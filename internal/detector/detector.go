// Package detector renders the client-side inspection script served to
// visitors. Every serve gets a fresh asset name and freshly renamed
// internal identifiers, so the script never looks the same twice.
package detector

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

//go:embed detector.js
var detectorJS string

const (
	optionsPlaceholder  = "__GATE_OPTIONS__"
	endpointPlaceholder = "__GATE_ENDPOINT__"

	assetNameBytes   = 8
	identSuffixBytes = 4

	// DefaultAssetTTL bounds how long an issued script stays servable.
	DefaultAssetTTL = 2 * time.Minute
)

// Options is embedded into the served script as its config object; the
// JSON field names are the keys the script reads.
type Options struct {
	CDPWeight         int   `json:"cdpWeight"`
	BehaviorWeight    int   `json:"behaviorWeight"`
	FingerprintWeight int   `json:"fingerprintWeight"`
	TimingWeight      int   `json:"timingWeight"`
	NavigatorWeight   int   `json:"navigatorWeight"`
	Threshold         int   `json:"threshold"`
	BehaviorTimeoutMs int64 `json:"behaviorTimeout"`
}

// DefaultOptions returns the weights the script ships with when no
// configuration overrides them.
func DefaultOptions() Options {
	return Options{
		CDPWeight:         55,
		BehaviorWeight:    15,
		FingerprintWeight: 10,
		TimingWeight:      10,
		NavigatorWeight:   10,
		Threshold:         50,
		BehaviorTimeoutMs: 2500,
	}
}

// renameable lists the script's internal identifiers. Each render maps
// every entry to a fresh random alias; none of these tokens may appear
// inside a string literal in detector.js.
var renameable = []string{
	"gateConfig", "gateEndpoint", "gateState", "scoreSignal", "safeProbe",
	"hashString", "probeDebugger", "probeWebdriver", "probeHeadless",
	"probeNavigator", "probeArtifacts", "artifactNames", "canvasFingerprint",
	"webglFingerprint", "audioFingerprint", "fontProbeList", "fontFingerprint",
	"buildFingerprint", "collectBehavior", "currentParams", "submitReport",
	"runChecks",
}

var renameTokenRe = regexp.MustCompile(`\b(?:` + strings.Join(renameable, "|") + `)\b`)

// Script is one issued copy of the detector, addressable by asset name.
type Script struct {
	Name string
	Body []byte
}

type issuedScript struct {
	body     []byte
	issuedAt time.Time
}

// Provider renders detector scripts and remembers what it issued so the
// asset route can serve them back.
type Provider struct {
	mu       sync.Mutex
	opts     Options
	endpoint string
	ttl      time.Duration
	issued   map[string]issuedScript
	log      *zap.Logger
}

// NewProvider wires a Provider that reports to endpoint and keeps issued
// scripts servable for ttl.
func NewProvider(opts Options, endpoint string, ttl time.Duration, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultAssetTTL
	}
	return &Provider{
		opts:     opts,
		endpoint: endpoint,
		ttl:      ttl,
		issued:   make(map[string]issuedScript),
		log:      log.Named("detector"),
	}
}

// Issue renders a fresh copy of the script under a new asset name.
func (p *Provider) Issue() (Script, error) {
	return p.issue(time.Now())
}

func (p *Provider) issue(now time.Time) (Script, error) {
	body, err := p.render()
	if err != nil {
		return Script{}, err
	}

	suffix, err := randomHex(assetNameBytes)
	if err != nil {
		return Script{}, fmt.Errorf("generating asset name: %w", err)
	}
	name := suffix + ".js"

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked(now)
	p.issued[name] = issuedScript{body: body, issuedAt: now}

	p.log.Debug("Issued detector script",
		zap.String("asset", name),
		zap.Int("bytes", len(body)),
	)
	return Script{Name: name, Body: body}, nil
}

// Lookup returns a previously issued script if it has not expired.
func (p *Provider) Lookup(name string) (Script, bool) {
	return p.lookup(name, time.Now())
}

func (p *Provider) lookup(name string, now time.Time) (Script, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.issued[name]
	if !ok {
		return Script{}, false
	}
	if now.Sub(entry.issuedAt) > p.ttl {
		delete(p.issued, name)
		return Script{}, false
	}
	return Script{Name: name, Body: entry.body}, true
}

// Len reports how many issued scripts are currently registered.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.issued)
}

func (p *Provider) sweepLocked(now time.Time) {
	for name, entry := range p.issued {
		if now.Sub(entry.issuedAt) > p.ttl {
			delete(p.issued, name)
		}
	}
}

// render produces one obfuscated copy of the script and refuses to hand
// out anything the JS parser rejects.
func (p *Provider) render() ([]byte, error) {
	optsJSON, err := json.Marshal(p.opts)
	if err != nil {
		return nil, fmt.Errorf("encoding detector options: %w", err)
	}

	src := strings.Replace(detectorJS, optionsPlaceholder, string(optsJSON), 1)
	src = strings.Replace(src, endpointPlaceholder, p.endpoint, 1)

	src, err = renameIdentifiers(src)
	if err != nil {
		return nil, err
	}
	if _, err := goja.Compile("detector.js", src, true); err != nil {
		return nil, fmt.Errorf("compiling rendered detector script: %w", err)
	}
	return []byte(src), nil
}

func renameIdentifiers(src string) (string, error) {
	fresh := make(map[string]string, len(renameable))
	used := make(map[string]bool, len(renameable))
	for _, name := range renameable {
		for {
			suffix, err := randomHex(identSuffixBytes)
			if err != nil {
				return "", fmt.Errorf("generating identifier alias: %w", err)
			}
			alias := "_" + suffix
			if !used[alias] {
				used[alias] = true
				fresh[name] = alias
				break
			}
		}
	}
	return renameTokenRe.ReplaceAllStringFunc(src, func(tok string) string {
		return fresh[tok]
	}), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
