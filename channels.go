package botguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// defaultBannerPorts are the ports a banner warning is attempted against.
// Delivery to any one of them counts as success.
var defaultBannerPorts = []int{22, 23, 80, 443, 8080, 8443}

// BannerWarnChannel dials back to the actor's address on a set of common
// ports and writes the notice as a plain-text banner. Most actors expose no
// listener, so failure is the normal case and is reported, not retried.
type BannerWarnChannel struct {
	Ports       []int
	DialTimeout time.Duration
}

func NewBannerWarnChannel() *BannerWarnChannel {
	return &BannerWarnChannel{
		Ports:       defaultBannerPorts,
		DialTimeout: 2 * time.Second,
	}
}

func (c *BannerWarnChannel) Name() string { return "tcp-banner" }

func (c *BannerWarnChannel) Notify(ctx context.Context, record *ActorRecord, notice string) Outcome {
	host := record.Address
	if host == "" {
		return Outcome{Success: false, Reason: "actor has no address"}
	}
	dialer := net.Dialer{Timeout: c.DialTimeout}
	var lastErr error
	for _, port := range c.Ports {
		if ctx.Err() != nil {
			return Outcome{Success: false, Reason: ctx.Err().Error()}
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			lastErr = err
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(c.DialTimeout))
		_, werr := conn.Write([]byte(notice))
		conn.Close()
		if werr == nil {
			return Outcome{Success: true, Reason: fmt.Sprintf("banner delivered to port %d", port)}
		}
		lastErr = werr
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no ports configured")
	}
	return Outcome{Success: false, Reason: fmt.Sprintf("no reachable port: %v", lastErr)}
}

// WebhookWarnChannel posts a JSON alert to an operator-controlled endpoint,
// typically a chat or incident webhook.
type WebhookWarnChannel struct {
	URL    string
	Client *http.Client
}

func NewWebhookWarnChannel(url string) *WebhookWarnChannel {
	return &WebhookWarnChannel{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *WebhookWarnChannel) Name() string { return "webhook" }

func (c *WebhookWarnChannel) Notify(ctx context.Context, record *ActorRecord, notice string) Outcome {
	if c.URL == "" {
		return Outcome{Success: false, Reason: "webhook url not configured"}
	}
	payload, err := json.Marshal(map[string]any{
		"fingerprint": record.Fingerprint,
		"address":     record.Address,
		"tier":        record.Tier.String(),
		"score":       record.Score,
		"attackCount": record.AttackCount,
		"notice":      notice,
	})
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("encode payload: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("post webhook: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Outcome{Success: false, Reason: fmt.Sprintf("webhook returned %d", resp.StatusCode)}
	}
	return Outcome{Success: true}
}

// AuditFileWarnChannel writes one notice file per warned actor into an audit
// directory. It always succeeds unless the filesystem does not cooperate.
type AuditFileWarnChannel struct {
	Dir string
}

func NewAuditFileWarnChannel(dir string) *AuditFileWarnChannel {
	return &AuditFileWarnChannel{Dir: dir}
}

func (c *AuditFileWarnChannel) Name() string { return "audit-file" }

func (c *AuditFileWarnChannel) Notify(ctx context.Context, record *ActorRecord, notice string) Outcome {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("create audit dir: %v", err)}
	}
	name := fmt.Sprintf("WARNING-%s-%d.txt", record.Fingerprint, time.Now().Unix())
	path := filepath.Join(c.Dir, name)
	if err := os.WriteFile(path, []byte(notice), 0o644); err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("write audit file: %v", err)}
	}
	return Outcome{Success: true, Reason: name}
}

// broadcastEntry is one line of the shared broadcast file consumed by peer
// deployments.
type broadcastEntry struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Address     string      `json:"address"`
	Tier        string      `json:"tier"`
	Score       int         `json:"score"`
	WarnedAt    time.Time   `json:"warnedAt"`
}

// BroadcastFileWarnChannel appends the actor to a bounded shared JSON file so
// sibling deployments can pre-seed their own registries.
type BroadcastFileWarnChannel struct {
	Path       string
	MaxEntries int
}

func NewBroadcastFileWarnChannel(path string) *BroadcastFileWarnChannel {
	return &BroadcastFileWarnChannel{Path: path, MaxEntries: 500}
}

func (c *BroadcastFileWarnChannel) Name() string { return "mesh-broadcast" }

func (c *BroadcastFileWarnChannel) Notify(ctx context.Context, record *ActorRecord, notice string) Outcome {
	var entries []broadcastEntry
	if data, err := os.ReadFile(c.Path); err == nil {
		// Corrupt broadcast files are replaced, not fatal.
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, broadcastEntry{
		Fingerprint: record.Fingerprint,
		Address:     record.Address,
		Tier:        record.Tier.String(),
		Score:       record.Score,
		WarnedAt:    time.Now().UTC(),
	})
	if c.MaxEntries > 0 && len(entries) > c.MaxEntries {
		entries = entries[len(entries)-c.MaxEntries:]
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("encode broadcast: %v", err)}
	}
	if err := writeFileAtomic(c.Path, data, 0o644); err != nil {
		return Outcome{Success: false, Reason: fmt.Sprintf("write broadcast: %v", err)}
	}
	return Outcome{Success: true}
}

// CommandActionChannel shells out to an operator-supplied tool, passing the
// actor address as the final argument. The tool does the actual enforcement
// (firewall insert, upstream block, etc).
type CommandActionChannel struct {
	Command string
	Args    []string
	Timeout time.Duration
	// FallbackPath receives a manual-action note when the tool exits
	// non-zero, so an operator can follow up by hand.
	FallbackPath string
}

func NewCommandActionChannel(command string, args ...string) *CommandActionChannel {
	return &CommandActionChannel{
		Command: command,
		Args:    args,
		Timeout: 10 * time.Second,
	}
}

func (c *CommandActionChannel) Name() string { return "command:" + c.Command }

func (c *CommandActionChannel) Available() bool {
	if c.Command == "" {
		return false
	}
	_, err := exec.LookPath(c.Command)
	return err == nil
}

func (c *CommandActionChannel) Act(ctx context.Context, record *ActorRecord) Outcome {
	cmdCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	args := append(append([]string{}, c.Args...), record.Address)
	cmd := exec.CommandContext(cmdCtx, c.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		c.writeFallback(record, err, output)
		return Outcome{Success: false, Reason: fmt.Sprintf("%s: %v", c.Command, err)}
	}
	return Outcome{Success: true, Reason: strings.TrimSpace(string(output))}
}

func (c *CommandActionChannel) writeFallback(record *ActorRecord, cause error, output []byte) {
	if c.FallbackPath == "" {
		return
	}
	note := fmt.Sprintf("MANUAL ACTION REQUIRED\ntime: %s\naddress: %s\nfingerprint: %s\ntier: %s\ncommand: %s\nerror: %v\noutput:\n%s\n",
		time.Now().UTC().Format(time.RFC3339),
		record.Address, record.Fingerprint, record.Tier, c.Command, cause, output)
	f, err := os.OpenFile(c.FallbackPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(note)
}

// ThrottleActionChannel neutralizes an actor by placing its address under a
// restriction the ingest middleware enforces. It is always available and is
// the sensible default action when no external tool is configured.
type ThrottleActionChannel struct {
	Throttle *ResponseThrottle
	Duration time.Duration
}

func NewThrottleActionChannel(throttle *ResponseThrottle, duration time.Duration) *ThrottleActionChannel {
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &ThrottleActionChannel{Throttle: throttle, Duration: duration}
}

func (c *ThrottleActionChannel) Name() string { return "throttle" }

func (c *ThrottleActionChannel) Available() bool { return c.Throttle != nil }

func (c *ThrottleActionChannel) Act(ctx context.Context, record *ActorRecord) Outcome {
	c.Throttle.Restrict(record.Address, c.Duration)
	return Outcome{Success: true, Reason: fmt.Sprintf("restricted for %s", c.Duration)}
}
