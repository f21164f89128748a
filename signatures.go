package botguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// Matchable event fields a signature rule can target.
const (
	FieldClientID = "clientId"
	FieldEndpoint = "endpoint"
	FieldPayload  = "payload"
	FieldMethod   = "method"
)

// SignatureRule scores one aspect of an event. A rule fires when any of its
// substrings occurs in the target field, or when its pattern matches.
// Matching is case-insensitive and side-effect free.
type SignatureRule struct {
	Name       string   `json:"name"`
	Field      string   `json:"field"`
	Substrings []string `json:"substrings,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	Weight     int      `json:"weight"`
	Severity   string   `json:"severity,omitempty"`

	re *regexp.Regexp
}

// TrapEndpoint is a decoy path. Legitimate clients have no reason to request
// it; hitting one adds a large fixed weight.
type TrapEndpoint struct {
	Endpoint string         `json:"endpoint"`
	Severity string         `json:"severity,omitempty"`
	Decoy    map[string]any `json:"decoy,omitempty"`
}

// CatalogWeights are the fixed heuristic weights applied on top of rule
// weights.
type CatalogWeights struct {
	Trap          int `json:"trap"`
	RapidRequest  int `json:"rapidRequest"`
	ShortClientID int `json:"shortClientId"`
	MinClientID   int `json:"minClientIdLength"`
}

func DefaultCatalogWeights() CatalogWeights {
	return CatalogWeights{
		Trap:          50,
		RapidRequest:  30,
		ShortClientID: 15,
		MinClientID:   10,
	}
}

type catalogOverlay struct {
	Rules         []SignatureRule `json:"rules,omitempty"`
	TrapEndpoints []TrapEndpoint  `json:"trapEndpoints,omitempty"`
	Weights       *CatalogWeights `json:"weights,omitempty"`
}

// SignatureCatalog is the read-only rule table consulted by the detector.
// Reload swaps the whole table atomically so in-flight matches never see a
// half-loaded catalog.
type SignatureCatalog struct {
	mu      sync.RWMutex
	rules   []SignatureRule
	traps   map[string]TrapEndpoint
	weights CatalogWeights
}

// NewSignatureCatalog returns a catalog preloaded with the built-in rule set.
func NewSignatureCatalog() *SignatureCatalog {
	c := &SignatureCatalog{
		traps:   make(map[string]TrapEndpoint),
		weights: DefaultCatalogWeights(),
	}
	for _, rule := range builtinRules() {
		c.rules = append(c.rules, rule)
	}
	for _, trap := range builtinTraps() {
		c.traps[trap.Endpoint] = trap
	}
	return c
}

// LoadSignatureCatalog builds the built-in catalog and overlays every JSON
// file found in dir. A missing directory is not an error.
func LoadSignatureCatalog(dir string) (*SignatureCatalog, error) {
	c := NewSignatureCatalog()
	if dir == "" {
		return c, nil
	}
	if err := c.Reload(dir); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads dir and atomically replaces the catalog contents with
// built-ins plus the directory overlays.
func (c *SignatureCatalog) Reload(dir string) error {
	rules := builtinRules()
	traps := make(map[string]TrapEndpoint)
	for _, trap := range builtinTraps() {
		traps[trap.Endpoint] = trap
	}
	weights := DefaultCatalogWeights()

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read signature directory: %v", err)
	}
	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(dir + "/" + file.Name())
		if err != nil {
			return fmt.Errorf("failed to read signature file %s: %v", file.Name(), err)
		}
		// Probe JSON to decide how to handle: single rule or overlay
		var probe map[string]any
		if err := json.Unmarshal(data, &probe); err != nil {
			return fmt.Errorf("failed to parse signature file %s: %v", file.Name(), err)
		}
		if name, ok := probe["name"].(string); ok && strings.TrimSpace(name) != "" {
			var rule SignatureRule
			if err := json.Unmarshal(data, &rule); err != nil {
				return fmt.Errorf("failed to parse signature rule file %s: %v", file.Name(), err)
			}
			rules = append(rules, rule)
			continue
		}
		var overlay catalogOverlay
		if err := json.Unmarshal(data, &overlay); err != nil {
			return fmt.Errorf("failed to parse signature overlay file %s: %v", file.Name(), err)
		}
		rules = append(rules, overlay.Rules...)
		for _, trap := range overlay.TrapEndpoints {
			traps[trap.Endpoint] = trap
		}
		if overlay.Weights != nil {
			weights = *overlay.Weights
		}
	}

	for i := range rules {
		if err := validateRule(&rules[i]); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.rules = rules
	c.traps = traps
	c.weights = weights
	c.mu.Unlock()
	return nil
}

func validateRule(rule *SignatureRule) error {
	if rule.Name == "" {
		return fmt.Errorf("signature rule has empty name")
	}
	switch rule.Field {
	case FieldClientID, FieldEndpoint, FieldPayload, FieldMethod:
	default:
		return fmt.Errorf("signature rule %s has invalid field: %s", rule.Name, rule.Field)
	}
	if rule.Weight <= 0 {
		return fmt.Errorf("signature rule %s has invalid weight: %d", rule.Name, rule.Weight)
	}
	if len(rule.Substrings) == 0 && rule.Pattern == "" {
		return fmt.Errorf("signature rule %s has no matcher", rule.Name)
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return fmt.Errorf("signature rule %s has invalid pattern: %v", rule.Name, err)
		}
		rule.re = re
	}
	return nil
}

// Match runs the event through every rule. All applicable rules fire; there
// is no early exit.
func (c *SignatureCatalog) Match(event ObservedEvent) (score int, tags []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.rules {
		rule := &c.rules[i]
		if rule.matches(event) {
			score += rule.Weight
			tags = append(tags, rule.Name)
		}
	}
	return score, tags
}

func (r *SignatureRule) matches(event ObservedEvent) bool {
	var value string
	switch r.Field {
	case FieldClientID:
		value = event.ClientID
	case FieldEndpoint:
		value = event.Endpoint
	case FieldPayload:
		value = event.Payload
	case FieldMethod:
		value = event.Method
	}
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, sub := range r.Substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	if r.re != nil {
		return r.re.MatchString(value)
	}
	return false
}

// Trap reports whether endpoint is a configured decoy.
func (c *SignatureCatalog) Trap(endpoint string) (TrapEndpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trap, ok := c.traps[endpoint]
	return trap, ok
}

// Weights returns the current heuristic weights.
func (c *SignatureCatalog) Weights() CatalogWeights {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.weights
}

// Watch reloads the catalog whenever a JSON file in dir changes. It blocks
// until ctx is cancelled; callers run it in a goroutine.
func (c *SignatureCatalog) Watch(ctx context.Context, dir string, logger *log.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create signature watcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch signature directory: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(dir); err != nil {
				logger.Error().Err(err).Str("file", event.Name).Msg("signature reload failed")
				continue
			}
			logger.Info().Str("file", event.Name).Msg("signature catalog reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("signature watcher error")
		}
	}
}

func builtinRules() []SignatureRule {
	rules := []SignatureRule{
		{
			Name:  "automation-client",
			Field: FieldClientID,
			Substrings: []string{
				"bot", "crawler", "spider", "scraper",
				"python-requests", "curl", "wget", "scrapy", "go-http",
				"headless", "phantomjs", "selenium", "puppeteer", "mechanize",
			},
			Weight:   25,
			Severity: "medium",
		},
		{
			Name:  "scanner-tool",
			Field: FieldClientID,
			Substrings: []string{
				"nikto", "nmap", "masscan", "zap", "acunetix",
				"sqlmap", "havij", "metasploit",
			},
			Weight:   35,
			Severity: "high",
		},
		{
			Name:       "network-recon",
			Field:      FieldClientID,
			Substrings: []string{"port_scan", "syn_scan", "firewall_blocked"},
			Weight:     30,
			Severity:   "high",
		},
		{
			Name:       "probe-method",
			Field:      FieldMethod,
			Substrings: []string{"scan", "syn", "probe"},
			Weight:     35,
			Severity:   "high",
		},
		{
			Name:     "sql-injection",
			Field:    FieldPayload,
			Pattern:  `UNION\s+SELECT|OR\s+1\s*=\s*1|DROP\s+TABLE|MOD\s*\(\s*UNIX_TIMESTAMP|MICROSECOND\s*\(`,
			Weight:   45,
			Severity: "critical",
		},
		{
			Name:       "disclosure-probe",
			Field:      FieldEndpoint,
			Substrings: []string{"/.env", "/.git", "/wp-admin", "/phpmyadmin", "/etc/passwd"},
			Weight:     30,
			Severity:   "medium",
		},
	}
	for i := range rules {
		// Built-ins are trusted; compile patterns eagerly.
		if rules[i].Pattern != "" {
			rules[i].re = regexp.MustCompile("(?i)" + rules[i].Pattern)
		}
	}
	return rules
}

func builtinTraps() []TrapEndpoint {
	return []TrapEndpoint{
		{
			Endpoint: "/api/temporal_data",
			Severity: "high",
			Decoy:    map[string]any{"dataset": "temporal", "rows": 4096},
		},
		{
			Endpoint: "/admin/debug/temporal",
			Severity: "critical",
			Decoy:    map[string]any{"mode": "debug", "build": "internal"},
		},
		{
			Endpoint: "/db/query/raw",
			Severity: "high",
			Decoy:    map[string]any{"query": "SELECT 1", "status": "ok"},
		},
		{
			Endpoint: "/.git/config",
			Severity: "medium",
			Decoy:    map[string]any{"api_key": "trap_key_587000"},
		},
		{
			Endpoint: "/api/mass_modulation",
			Severity: "critical",
			Decoy:    map[string]any{"frequency": 587000, "resonance": true},
		},
	}
}
