package errorgroups

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const (
	defaultWindow = 5 * time.Minute
	defaultMaxAge = 24 * time.Hour
	maxSamples    = 5
	maxGroups     = 500
	uncategorized = "uncategorized"
	trendRising   = "increasing"
	trendFalling  = "decreasing"
	trendStable   = "stable"
	risingFactor  = 1.2
	fallingFactor = 0.8
)

// Pattern names a class of failure recognised in event text.
type Pattern struct {
	Name     string
	Category string
	Severity string
	re       *regexp.Regexp
}

// NewPattern compiles a pattern. The expression is matched against the
// event summary and the error and message payload fields.
func NewPattern(name, category, severity, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %s: %w", name, err)
	}
	return Pattern{Name: name, Category: category, Severity: severity, re: re}, nil
}

func mustPattern(name, category, severity, expr string) Pattern {
	p, err := NewPattern(name, category, severity, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultPatterns covers the common application, HTTP, database and system failures.
func DefaultPatterns() []Pattern {
	return []Pattern{
		mustPattern("NullPointer", "application", "high", `(?i)null\s*pointer|null\s*reference|nil\s*pointer`),
		mustPattern("OutOfMemory", "resource", "critical", `(?i)out\s*of\s*memory|\boom\b|memory\s*exhausted`),
		mustPattern("DatabaseConnection", "database", "high", `(?i)connection\s*(refused|reset|failed)|can't\s*connect|lost\s*connection`),
		mustPattern("QueryError", "database", "medium", `(?i)sql\s*error|query\s*failed|syntax\s*error|deadlock`),
		mustPattern("DiskSpace", "system", "critical", `(?i)disk\s*(full|space)|no\s*space\s*left`),
		mustPattern("Permission", "security", "medium", `(?i)permission\s*denied|access\s*denied|forbidden`),
		mustPattern("Timeout", "network", "medium", `(?i)timeout|timed?\s*out|deadline\s*exceeded`),
		mustPattern("RateLimited", "network", "medium", `(?i)rate\s*limit|too\s*many\s*requests`),
		mustPattern("Panic", "application", "critical", `(?i)\bpanic\b|\bfatal\b`),
	}
}

// Sample is one recent event of a group.
type Sample struct {
	EventID   int64     `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	App       string    `json:"app"`
	Summary   string    `json:"summary,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// Group is the running tally of one failure class.
type Group struct {
	Key           string           `json:"key"`
	Pattern       string           `json:"pattern"`
	Category      string           `json:"category"`
	Severity      string           `json:"severity"`
	Count         int64            `json:"count"`
	FirstSeen     time.Time        `json:"first_seen"`
	LastSeen      time.Time        `json:"last_seen"`
	Apps          map[string]int64 `json:"apps"`
	Samples       []Sample         `json:"samples"`
	RatePerMinute float64          `json:"rate_per_minute"`
	Trend         string           `json:"trend"`
}

type group struct {
	Group
	windowStart time.Time
	current     int64
	previous    int64
}

// roll moves the window forward so current counts only the window holding now.
func (g *group) roll(now time.Time, window time.Duration) {
	start := now.Truncate(window)
	if !start.After(g.windowStart) {
		return
	}
	if start.Sub(g.windowStart) == window {
		g.previous = g.current
	} else {
		g.previous = 0
	}
	g.current = 0
	g.windowStart = start
}

func (g *group) trend() string {
	switch {
	case float64(g.current) > float64(g.previous)*risingFactor:
		return trendRising
	case float64(g.current) < float64(g.previous)*fallingFactor:
		return trendFalling
	default:
		return trendStable
	}
}

// Detector groups failing events by the pattern their text matches.
// It is safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	patterns []Pattern
	groups   map[string]*group
	window   time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewDetector returns a detector using patterns, or DefaultPatterns when none are given.
func NewDetector(patterns ...Pattern) *Detector {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Detector{
		patterns: patterns,
		groups:   make(map[string]*group),
		window:   defaultWindow,
		maxAge:   defaultMaxAge,
		now:      time.Now,
	}
}

// ObserveEvent records e if it is a failure: error severity, an error
// payload field, or an HTTP status of 400 or above.
func (d *Detector) ObserveEvent(e *models.Event) {
	f := payloadFields(e.Payload)
	if !failing(e, f) {
		return
	}

	text := strings.Join([]string{e.Summary, f.err, f.message}, "\n")
	var matched []Pattern
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		matched = append(matched, fallback(e, f))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, p := range matched {
		d.record(p, e, now)
	}
}

func (d *Detector) record(p Pattern, e *models.Event, now time.Time) {
	key := p.Category + ":" + p.Name
	g, ok := d.groups[key]
	if !ok {
		if len(d.groups) >= maxGroups {
			d.pruneLocked(now)
			if len(d.groups) >= maxGroups {
				return
			}
		}
		g = &group{
			Group: Group{
				Key:       key,
				Pattern:   p.Name,
				Category:  p.Category,
				Severity:  p.Severity,
				FirstSeen: now,
				Apps:      make(map[string]int64),
			},
			windowStart: now.Truncate(d.window),
		}
		d.groups[key] = g
	}

	g.roll(now, d.window)
	g.current++
	g.Count++
	g.LastSeen = now
	g.Apps[e.App]++

	g.Samples = append(g.Samples, Sample{
		EventID:   e.ID,
		Timestamp: e.Timestamp,
		App:       e.App,
		Summary:   e.Summary,
		TraceID:   e.TraceID,
	})
	if len(g.Samples) > maxSamples {
		g.Samples = g.Samples[len(g.Samples)-maxSamples:]
	}
}

// Groups returns a snapshot of the live groups, largest first. Groups
// not seen within a day are dropped.
func (d *Detector) Groups() []Group {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.pruneLocked(now)

	out := make([]Group, 0, len(d.groups))
	for _, g := range d.groups {
		g.roll(now, d.window)
		snap := g.Group
		snap.Apps = make(map[string]int64, len(g.Apps))
		for app, n := range g.Apps {
			snap.Apps[app] = n
		}
		snap.Samples = append([]Sample(nil), g.Samples...)
		snap.RatePerMinute = float64(g.current) / d.window.Minutes()
		snap.Trend = g.trend()
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (d *Detector) pruneLocked(now time.Time) {
	for key, g := range d.groups {
		if now.Sub(g.LastSeen) > d.maxAge {
			delete(d.groups, key)
		}
	}
}

type fields struct {
	err     string
	message string
	status  int
}

func payloadFields(raw json.RawMessage) fields {
	var f fields
	var payload map[string]interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &payload) != nil {
		return f
	}
	f.err = stringField(payload["error"])
	f.message = stringField(payload["message"])
	for _, key := range []string{"status_code", "status"} {
		if n, ok := payload[key].(float64); ok {
			f.status = int(n)
			break
		}
	}
	return f
}

func stringField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if msg, ok := t["message"].(string); ok {
			return msg
		}
	}
	return ""
}

func failing(e *models.Event, f fields) bool {
	return e.Severity >= models.SeverityError || f.err != "" || f.status >= 400
}

// fallback names a failure no pattern recognised.
func fallback(e *models.Event, f fields) Pattern {
	switch {
	case f.status >= 500:
		return Pattern{Name: "HTTP5xx", Category: "http", Severity: "high"}
	case f.status >= 400:
		return Pattern{Name: "HTTP4xx", Category: "http", Severity: "medium"}
	default:
		return Pattern{Name: e.EventType, Category: uncategorized, Severity: "medium"}
	}
}
