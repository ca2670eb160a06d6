package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/logger"
	tooltypes "github.com/agentmesh/agentgate/pkg/types/tools"
)

const (
	defaultWebTimeout   = 30 * time.Second
	defaultMaxBodyBytes = 100 * 1024
	maxRedirects        = 10
)

// webRequestSettings are the per-tool settings read from the config file.
type webRequestSettings struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// WebRequestInput defines the input parameters for the web request tool.
type WebRequestInput struct {
	URL       string `json:"url" jsonschema:"description=The URL to fetch content from"`
	Objective string `json:"objective,omitempty" jsonschema:"description=What the gateway wants from this request (informational)"`
}

// WebRequestTool performs a generic outbound HTTP request on behalf of the
// gateway. HTML responses are converted to markdown before being handed back
// to the model.
type WebRequestTool struct {
	name         string
	description  string
	timeout      time.Duration
	maxBodyBytes int
}

var _ tooltypes.Tool = &WebRequestTool{}

// NewWebRequestTool builds a web request tool from its configuration entry.
func NewWebRequestTool(cfg config.ToolConfig) (*WebRequestTool, error) {
	settings := webRequestSettings{}
	if cfg.Settings != nil {
		if err := mapstructure.Decode(cfg.Settings, &settings); err != nil {
			return nil, errors.Wrap(err, "invalid web tool settings")
		}
	}

	tool := &WebRequestTool{
		name:         cfg.Name,
		description:  cfg.Description,
		timeout:      defaultWebTimeout,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	if settings.TimeoutSeconds > 0 {
		tool.timeout = time.Duration(settings.TimeoutSeconds) * time.Second
	}
	if settings.MaxBodyBytes > 0 {
		tool.maxBodyBytes = settings.MaxBodyBytes
	}
	if tool.description == "" {
		tool.description = "Fetch content from a public URL. HTML pages are converted to markdown."
	}

	return tool, nil
}

// Name returns the configured tool name.
func (t *WebRequestTool) Name() string {
	return t.name
}

// Description returns the tool description shown to the model.
func (t *WebRequestTool) Description() string {
	return t.description
}

// GenerateSchema generates the JSON schema for the tool input.
func (t *WebRequestTool) GenerateSchema() *jsonschema.Schema {
	return GenerateSchema[WebRequestInput]()
}

// isLocalHost reports whether the hostname is localhost or a loopback address.
func isLocalHost(hostname string) bool {
	if hostname == "localhost" || hostname == "0.0.0.0" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateInput validates the tool parameters.
func (t *WebRequestTool) ValidateInput(parameters string) error {
	input := &WebRequestInput{}
	if err := json.Unmarshal([]byte(parameters), input); err != nil {
		return err
	}

	if input.URL == "" {
		return errors.New("url is required")
	}

	parsedURL, err := url.Parse(input.URL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	// HTTPS for external domains, plain HTTP only for localhost
	if parsedURL.Scheme != "https" && (parsedURL.Scheme != "http" || !isLocalHost(parsedURL.Hostname())) {
		return errors.New("only HTTPS is supported for external domains; HTTP is allowed for localhost addresses")
	}

	return nil
}

// Execute performs the HTTP request and returns the processed content.
func (t *WebRequestTool) Execute(ctx context.Context, parameters string) tooltypes.ToolResult {
	input := &WebRequestInput{}
	if err := json.Unmarshal([]byte(parameters), input); err != nil {
		return tooltypes.ToolResult{Error: err.Error()}
	}
	if err := t.ValidateInput(parameters); err != nil {
		return tooltypes.ToolResult{Error: err.Error()}
	}

	content, contentType, err := t.fetchWithSameHostRedirects(ctx, input.URL)
	if err != nil {
		return tooltypes.ToolResult{Error: fmt.Sprintf("failed to fetch %s: %s", input.URL, err)}
	}

	if strings.Contains(contentType, "text/html") {
		content = convertHTMLToMarkdown(ctx, content)
	}

	if len(content) > t.maxBodyBytes {
		content = content[:t.maxBodyBytes] +
			fmt.Sprintf("\n\n[truncated at %d bytes]", t.maxBodyBytes)
	}

	return tooltypes.ToolResult{Result: content}
}

// fetchWithSameHostRedirects fetches a URL, following redirects only within
// the original host.
func (t *WebRequestTool) fetchWithSameHostRedirects(ctx context.Context, urlStr string) (string, string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", "", errors.Wrap(err, "invalid URL")
	}
	originalHost := parsedURL.Hostname()

	client := &http.Client{
		Timeout: t.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Hostname() != originalHost {
				return errors.Errorf("redirect to different host not allowed: %s -> %s",
					originalHost, req.URL.Hostname())
			}
			if len(via) >= maxRedirects {
				return errors.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", errors.Errorf("HTTP error: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if isBinaryContentType(contentType) {
		return "", "", errors.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}

	return string(body), contentType, nil
}

func isBinaryContentType(contentType string) bool {
	for _, binary := range []string{
		"application/octet-stream",
		"application/zip",
		"application/pdf",
		"image/",
		"audio/",
		"video/",
	} {
		if strings.Contains(contentType, binary) {
			return true
		}
	}
	return false
}

// convertHTMLToMarkdown converts HTML content to markdown, falling back to
// the raw HTML on conversion failure.
func convertHTMLToMarkdown(ctx context.Context, htmlContent string) string {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(htmlContent)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to convert HTML to markdown, returning raw HTML")
		return htmlContent
	}
	return markdown
}
