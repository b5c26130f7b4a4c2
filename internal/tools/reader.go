package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kavyleancoder/meepo/internal/audit"
	"github.com/kavyleancoder/meepo/internal/policy"
)

const maxReadURLRedirects = 10

// ReadURLTool fetches a web page and returns simplified plain text. External
// tier: it reaches off-host and is subject to AllowHTTPURL on both the
// initial request and every redirect hop.
type ReadURLTool struct {
	Policy policy.Checker
}

func (ReadURLTool) Name() string { return "read_url" }
func (ReadURLTool) Description() string {
	return "Fetch and read the content of a web page URL. Returns the page content as simplified text. Use this to read articles, documentation, or any web page."
}
func (ReadURLTool) InputSchema() map[string]any {
	return Schema(map[string]any{
		"url": map[string]any{"type": "string", "description": "URL to fetch"},
	}, []string{"url"})
}

func (t ReadURLTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode input: %w", err)
	}
	if in.URL == "" {
		return "", fmt.Errorf("empty URL")
	}

	pv := ""
	if t.Policy != nil {
		pv = t.Policy.PolicyVersion()
	}
	if t.Policy == nil || !t.Policy.AllowHTTPURL(in.URL) {
		audit.Record("deny", "tools.read_url", "url_denied", pv, in.URL)
		return "", fmt.Errorf("policy denied URL %q", in.URL)
	}
	audit.Record("allow", "tools.read_url", "url_allowed", pv, in.URL)

	content, err := fetchAndSimplify(ctx, in.URL, t.Policy)
	if err != nil {
		return "", fmt.Errorf("read URL: %w", err)
	}
	return content, nil
}

func fetchAndSimplify(ctx context.Context, rawURL string, pol policy.Checker) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Meepo/1.0 (autonomous agent)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxReadURLRedirects {
				return fmt.Errorf("stopped after %d redirects", maxReadURLRedirects)
			}
			redirectURL := req.URL.String()
			policyVersion := ""
			if pol != nil {
				policyVersion = pol.PolicyVersion()
			}
			if pol == nil || !pol.AllowHTTPURL(redirectURL) {
				audit.Record("deny", "tools.read_url", "redirect_url_denied", policyVersion, redirectURL)
				return fmt.Errorf("policy denied redirect URL %q", redirectURL)
			}
			audit.Record("allow", "tools.read_url", "redirect_url_allowed", policyVersion, redirectURL)
			return nil
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return "", err
	}

	content := htmlToText(string(body))

	if len(content) > 8000 {
		content = content[:8000] + "\n\n[Content truncated at 8000 characters]"
	}
	return content, nil
}

// htmlToText converts HTML to simplified plain text. No browser required.
func htmlToText(html string) string {
	reScript := regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	html = reScript.ReplaceAllString(html, "")

	reStyle := regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	html = reStyle.ReplaceAllString(html, "")

	reComment := regexp.MustCompile(`(?s)<!--.*?-->`)
	html = reComment.ReplaceAllString(html, "")

	blockTags := regexp.MustCompile(`(?i)</?(?:div|p|br|h[1-6]|li|tr|td|th|blockquote|pre|hr)[^>]*>`)
	html = blockTags.ReplaceAllString(html, "\n")

	reTags := regexp.MustCompile(`<[^>]+>`)
	html = reTags.ReplaceAllString(html, "")

	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")
	html = strings.ReplaceAll(html, "&#39;", "'")
	html = strings.ReplaceAll(html, "&nbsp;", " ")

	reSpaces := regexp.MustCompile(`[ \t]+`)
	html = reSpaces.ReplaceAllString(html, " ")

	reNewlines := regexp.MustCompile(`\n{3,}`)
	html = reNewlines.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
