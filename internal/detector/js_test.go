package detector

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envJS is a minimal browser stand-in. The profile controls what the
// detector sees; __fire injects input events and __flushTimers runs the
// deferred submission.
const envJS = `
var __profile = %PROFILE%;
var __posts = [];
var __timers = [];
var __listeners = {};
var __redirects = [];
var __now = 1700000000000;

Date = function () {
	return { getTime: function () { return __now; } };
};
function __advance(ms) { __now += ms; }

var window = this;
var navigator = __profile.navigator;
var screen = __profile.screen;

if (__profile.chrome) { window.chrome = { runtime: {} }; }
var __extras = __profile.globals || [];
for (var __i = 0; __i < __extras.length; __i++) { window[__extras[__i]] = true; }

var console = {
	log: function () {},
	error: function () {},
	debug: function (arg) {
		if (__profile.cdp && arg && typeof arg === 'object') {
			var probe = arg.stack;
		}
	}
};

var location = {
	pathname: __profile.path || '/',
	search: __profile.query || '',
	replace: function (url) { __redirects.push(url); }
};

function setTimeout(fn, ms) { __timers.push(fn); return __timers.length; }
function __flushTimers() {
	var pending = __timers.slice();
	__timers = [];
	for (var i = 0; i < pending.length; i++) { pending[i](); }
}
function __fire(type) {
	var handlers = __listeners[type] || [];
	for (var i = 0; i < handlers.length; i++) { handlers[i]({}); }
}

function __measureWidth(font) {
	if (font.indexOf("'") === -1) { return 100; }
	return 101 + (font.length % 7);
}

var document = {
	addEventListener: function (type, fn) {
		(__listeners[type] = __listeners[type] || []).push(fn);
	},
	createElement: function (tag) {
		if (tag !== 'canvas') { return {}; }
		var ctx2d = {
			font: '',
			textBaseline: '',
			fillStyle: '',
			fillRect: function () {},
			fillText: function () {},
			measureText: function () { return { width: __measureWidth(ctx2d.font) }; }
		};
		return {
			width: 0,
			height: 0,
			getContext: function (kind) {
				if (__profile.canvasThrows) { throw new Error('canvas disabled'); }
				if (kind === '2d') { return ctx2d; }
				if ((kind === 'webgl' || kind === 'experimental-webgl') && __profile.webgl) {
					return {
						VENDOR: 7936,
						RENDERER: 7937,
						getExtension: function () {
							return { UNMASKED_VENDOR_WEBGL: 37445, UNMASKED_RENDERER_WEBGL: 37446 };
						},
						getParameter: function (code) {
							if (code === 37445) { return __profile.webgl.vendor; }
							if (code === 37446) { return __profile.webgl.renderer; }
							return '';
						}
					};
				}
				return null;
			},
			toDataURL: function () { return __profile.canvasData || 'data:image/png;base64,stub'; }
		};
	}
};

if (__profile.audio) {
	window.OfflineAudioContext = function (channels, length, rate) {
		this.sampleRate = rate;
		this.length = length;
		this.destination = { channelCount: 2 };
	};
}

var Intl = {
	DateTimeFormat: function () {
		return { resolvedOptions: function () { return { timeZone: 'Europe/Berlin' }; } };
	}
};

function __thenable(value) {
	return {
		then: function (cb) { return __thenable(cb(value)); },
		catch: function () { return __thenable(value); }
	};
}

function fetch(url, opts) {
	var record = { url: url, body: (opts && opts.body) || '' };
	try { record.payload = JSON.parse(record.body); } catch (err) { record.payload = null; }
	__posts.push(record);
	if (!__profile.response) {
		var inert = {
			then: function () { return inert; },
			catch: function () { return inert; }
		};
		return inert;
	}
	return __thenable({ json: function () { return __profile.response; } });
}
`

// standardInteraction simulates a visitor who moves the mouse, clicks,
// types, and scrolls with human-scale delays.
const standardInteraction = `
__advance(400); __fire('mousemove');
__advance(200); __fire('mousemove'); __fire('mousedown');
__advance(120); __fire('keydown'); __fire('scroll');
`

type webglProfile struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

type browserProfile struct {
	Navigator    map[string]interface{} `json:"navigator"`
	Screen       map[string]interface{} `json:"screen"`
	Chrome       bool                   `json:"chrome"`
	CanvasData   string                 `json:"canvasData,omitempty"`
	CanvasThrows bool                   `json:"canvasThrows,omitempty"`
	WebGL        *webglProfile          `json:"webgl,omitempty"`
	Audio        bool                   `json:"audio"`
	Path         string                 `json:"path,omitempty"`
	Query        string                 `json:"query,omitempty"`
	Globals      []string               `json:"globals,omitempty"`
	CDP          bool                   `json:"cdp,omitempty"`
	Response     map[string]interface{} `json:"response,omitempty"`
}

func cleanProfile() browserProfile {
	return browserProfile{
		Navigator: map[string]interface{}{
			"userAgent":           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"platform":            "Linux x86_64",
			"vendor":              "Google Inc.",
			"language":            "en-US",
			"languages":           []string{"en-US", "en"},
			"plugins":             []int{1, 2, 3},
			"mimeTypes":           []int{1, 2},
			"hardwareConcurrency": 8,
			"deviceMemory":        8,
			"maxTouchPoints":      0,
		},
		Screen: map[string]interface{}{
			"width":       1920,
			"height":      1080,
			"availWidth":  1920,
			"availHeight": 1040,
			"colorDepth":  24,
		},
		Chrome:     true,
		CanvasData: "data:image/png;base64,cleanbrowser",
		WebGL:      &webglProfile{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA GeForce GTX 1650)"},
		Audio:      true,
	}
}

type reportBehaviors struct {
	Moves           int   `json:"moves"`
	Clicks          int   `json:"clicks"`
	Keys            int   `json:"keys"`
	Scrolls         int   `json:"scrolls"`
	FirstInputDelay int64 `json:"firstInputDelay"`
	TimeOnPage      int64 `json:"timeOnPage"`
	Suspect         bool  `json:"suspect"`
}

type reportChecks struct {
	Webdriver bool     `json:"webdriver"`
	CDP       bool     `json:"cdp"`
	Headless  []string `json:"headless"`
	Navigator []string `json:"navigator"`
	Artifacts []string `json:"artifacts"`
}

type submittedReport struct {
	URL     string `json:"url"`
	Payload struct {
		Fingerprint map[string]interface{} `json:"fingerprint"`
		Behaviors   reportBehaviors        `json:"behaviors"`
		ClientScore float64                `json:"clientScore"`
		Signals     []string               `json:"signals"`
		Checks      reportChecks           `json:"checks"`
		URLParams   struct {
			Path  string `json:"path"`
			Query string `json:"query"`
		} `json:"urlParams"`
	} `json:"payload"`
}

type detectorRun struct {
	vm    *goja.Runtime
	posts []submittedReport
}

func execDetector(t *testing.T, script Script, profile browserProfile, interaction string) detectorRun {
	t.Helper()

	profileJSON, err := json.Marshal(profile)
	require.NoError(t, err)

	vm := goja.New()
	_, err = vm.RunString(strings.Replace(envJS, "%PROFILE%", string(profileJSON), 1))
	require.NoError(t, err, "Environment stub should evaluate")

	_, err = vm.RunString(string(script.Body))
	require.NoError(t, err, "Rendered detector should evaluate without throwing")

	if interaction != "" {
		_, err = vm.RunString(interaction)
		require.NoError(t, err)
	}
	_, err = vm.RunString(`__flushTimers()`)
	require.NoError(t, err)

	raw, err := vm.RunString(`JSON.stringify(__posts)`)
	require.NoError(t, err)

	var posts []submittedReport
	require.NoError(t, json.Unmarshal([]byte(raw.String()), &posts))
	return detectorRun{vm: vm, posts: posts}
}

func runDetector(t *testing.T, profile browserProfile, interaction string) detectorRun {
	t.Helper()
	p := newTestProvider(time.Minute)
	script, err := p.Issue()
	require.NoError(t, err)
	return execDetector(t, script, profile, interaction)
}

func (r detectorRun) redirects(t *testing.T) []string {
	raw, err := r.vm.RunString(`JSON.stringify(__redirects)`)
	require.NoError(t, err)
	var urls []string
	require.NoError(t, json.Unmarshal([]byte(raw.String()), &urls))
	return urls
}

func TestCleanBrowserReportsZeroScore(t *testing.T) {
	run := runDetector(t, cleanProfile(), standardInteraction)
	require.Len(t, run.posts, 1, "Script should submit exactly one report")

	report := run.posts[0]
	assert.Equal(t, testEndpoint, report.URL)
	assert.Zero(t, report.Payload.ClientScore)
	assert.Empty(t, report.Payload.Signals)

	checks := report.Payload.Checks
	assert.False(t, checks.Webdriver)
	assert.False(t, checks.CDP)
	assert.Empty(t, checks.Headless)
	assert.Empty(t, checks.Navigator)
	assert.Empty(t, checks.Artifacts)

	fp := report.Payload.Fingerprint
	assert.Regexp(t, `^[0-9a-f]{8}$`, fp["canvas"])
	assert.Regexp(t, `^[0-9a-f]{8}$`, fp["audio"])
	assert.Equal(t, "Google Inc. (NVIDIA)", fp["webglVendor"])
	assert.Equal(t, "ANGLE (NVIDIA GeForce GTX 1650)", fp["webglRenderer"])
	assert.Equal(t, "1920x1080x1920x1040x24x1", fp["screen"])
	assert.Equal(t, "Europe/Berlin", fp["timezone"])
	assert.Equal(t, "en-US,en", fp["languages"])
	assert.Len(t, fp["fonts"], 10)

	behaviors := report.Payload.Behaviors
	assert.Equal(t, 2, behaviors.Moves)
	assert.Equal(t, 1, behaviors.Clicks)
	assert.Equal(t, 1, behaviors.Keys)
	assert.Equal(t, 1, behaviors.Scrolls)
	assert.Equal(t, int64(400), behaviors.FirstInputDelay)
	assert.Equal(t, int64(720), behaviors.TimeOnPage)
	assert.False(t, behaviors.Suspect)

	assert.Empty(t, report.Payload.URLParams.Path)
	assert.Empty(t, report.Payload.URLParams.Query)
}

func TestWebdriverFlagRaisesCheckAndScore(t *testing.T) {
	profile := cleanProfile()
	profile.Navigator["webdriver"] = true

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.True(t, report.Payload.Checks.Webdriver)
	assert.Equal(t, float64(60), report.Payload.ClientScore)
	assert.Contains(t, report.Payload.Signals, "webdriver")
	assert.True(t, report.Payload.Behaviors.Suspect)
}

func TestHeadlessAnomaliesAreCapped(t *testing.T) {
	profile := cleanProfile()
	profile.Chrome = false
	profile.Navigator["plugins"] = []int{}
	profile.Navigator["mimeTypes"] = []int{}
	profile.Navigator["languages"] = []string{}

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.ElementsMatch(t,
		[]string{"no-chrome", "no-plugins", "no-mimetypes", "no-languages"},
		report.Payload.Checks.Headless)
	assert.Equal(t, float64(45), report.Payload.ClientScore,
		"Four anomalies at 15 each must cap at 45")
	assert.Contains(t, report.Payload.Signals, "headless:no-chrome")
	assert.Contains(t, report.Payload.Signals, "headless:no-plugins")
}

func TestDevtoolsSerializationDetected(t *testing.T) {
	profile := cleanProfile()
	profile.CDP = true

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.True(t, report.Payload.Checks.CDP)
	assert.Equal(t, float64(55), report.Payload.ClientScore)
	assert.Contains(t, report.Payload.Signals, "cdp")
}

func TestAutomationArtifactsDetected(t *testing.T) {
	profile := cleanProfile()
	profile.Globals = []string{"__selenium_unwrapped", "cdc_adoQpoasnfa76pfcZLmcfl_Array"}

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.Contains(t, report.Payload.Checks.Artifacts, "__selenium_unwrapped")
	assert.Contains(t, report.Payload.Checks.Artifacts, "cdc_adoQpoasnfa76pfcZLmcfl_Array")
	assert.Equal(t, float64(50), report.Payload.ClientScore,
		"Artifact presence scores once, however many artifacts show up")
	assert.Contains(t, report.Payload.Signals, "artifacts")
}

func TestNavigatorInconsistenciesCapped(t *testing.T) {
	profile := cleanProfile()
	profile.Navigator["userAgent"] = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	profile.Navigator["platform"] = "Linux x86_64"
	profile.Navigator["language"] = "fr-FR"
	profile.Navigator["hardwareConcurrency"] = 0
	profile.Navigator["vendor"] = "Apple Computer, Inc."

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.ElementsMatch(t,
		[]string{"platform-os", "language-mismatch", "impossible-concurrency", "vendor-mismatch"},
		report.Payload.Checks.Navigator)
	assert.Equal(t, float64(30), report.Payload.ClientScore,
		"Four inconsistencies at 10 each must cap at 30")
}

func TestBrokenCanvasIsIsolated(t *testing.T) {
	profile := cleanProfile()
	profile.CanvasThrows = true

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1, "A throwing probe must not stop the submission")

	report := run.posts[0]
	assert.Contains(t, report.Payload.Signals, "fp:no-canvas")
	assert.Contains(t, report.Payload.Signals, "fp:no-webgl")
	assert.Equal(t, float64(20), report.Payload.ClientScore)
	assert.Nil(t, report.Payload.Fingerprint["canvas"])
	assert.Empty(t, report.Payload.Fingerprint["fonts"])
	assert.Regexp(t, `^[0-9a-f]{8}$`, report.Payload.Fingerprint["audio"],
		"Audio probe is independent of canvas failures")
}

func TestURLParamsForwarded(t *testing.T) {
	profile := cleanProfile()
	profile.Path = "/promo/spring"
	profile.Query = "?utm_source=mail&c=7"

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)

	params := run.posts[0].Payload.URLParams
	assert.Equal(t, "/promo/spring", params.Path)
	assert.Equal(t, "utm_source=mail&c=7", params.Query, "Leading question mark is stripped")
}

func TestSilentVisitorScoresBehavior(t *testing.T) {
	run := runDetector(t, cleanProfile(), "")
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.Contains(t, report.Payload.Signals, "behavior:silent")
	assert.Equal(t, float64(15), report.Payload.ClientScore)
	assert.Zero(t, report.Payload.Behaviors.Moves)
	assert.Equal(t, int64(-1), report.Payload.Behaviors.FirstInputDelay)
}

func TestInstantInputScoresTiming(t *testing.T) {
	run := runDetector(t, cleanProfile(), `__fire('mousemove'); __fire('mousedown');`)
	require.Len(t, run.posts, 1)

	report := run.posts[0]
	assert.Contains(t, report.Payload.Signals, "timing:instant-input")
	assert.Equal(t, float64(10), report.Payload.ClientScore)
	assert.Equal(t, int64(0), report.Payload.Behaviors.FirstInputDelay)
}

func TestAllowedResponseTriggersRedirect(t *testing.T) {
	profile := cleanProfile()
	profile.Response = map[string]interface{}{
		"allowed":     true,
		"verdict":     "human",
		"score":       0,
		"redirectUrl": "https://a1b2c3d4e5f6.example.com/",
	}

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)
	assert.Equal(t, []string{"https://a1b2c3d4e5f6.example.com/"}, run.redirects(t))
}

func TestDeniedResponseStaysPut(t *testing.T) {
	profile := cleanProfile()
	profile.Response = map[string]interface{}{
		"allowed":     false,
		"verdict":     "bot",
		"score":       120,
		"redirectUrl": nil,
	}

	run := runDetector(t, profile, standardInteraction)
	require.Len(t, run.posts, 1)
	assert.Empty(t, run.redirects(t))
}

func TestObfuscationPreservesBehavior(t *testing.T) {
	p := newTestProvider(time.Minute)

	first, err := p.Issue()
	require.NoError(t, err)
	second, err := p.Issue()
	require.NoError(t, err)
	require.NotEqual(t, string(first.Body), string(second.Body))

	runA := execDetector(t, first, cleanProfile(), standardInteraction)
	runB := execDetector(t, second, cleanProfile(), standardInteraction)
	require.Len(t, runA.posts, 1)
	require.Len(t, runB.posts, 1)

	assert.Equal(t, runA.posts[0].Payload.ClientScore, runB.posts[0].Payload.ClientScore)
	assert.Equal(t, runA.posts[0].Payload.Signals, runB.posts[0].Payload.Signals)
	assert.Equal(t, runA.posts[0].Payload.Fingerprint["canvas"], runB.posts[0].Payload.Fingerprint["canvas"])
}
