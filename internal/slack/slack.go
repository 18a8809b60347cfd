package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pep299/legal-doc-analyzer/internal/analysis"
)

const defaultBaseURL = "https://slack.com/api"

// Client handles Slack notifications
type Client struct {
	botToken   string
	channel    string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Slack client
func NewClient(botToken, channel string) *Client {
	return &Client{
		botToken: botToken,
		channel:  channel,
		baseURL:  defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the client at another API root
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// ChatPostMessageRequest represents a Slack chat.postMessage request
type ChatPostMessageRequest struct {
	Channel   string `json:"channel"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

// SendAnalysis posts a finished document analysis
func (c *Client) SendAnalysis(ctx context.Context, filename string, result *analysis.Analysis) error {
	return c.sendMessage(ctx, FormatAnalysisMessage(filename, result, time.Now()), c.channel)
}

// SendSimpleMessage sends a simple text message to Slack
func (c *Client) SendSimpleMessage(ctx context.Context, text string) error {
	return c.sendMessage(ctx, text, c.channel)
}

// FormatAnalysisMessage renders an analysis as Slack mrkdwn
func FormatAnalysisMessage(filename string, result *analysis.Analysis, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, ":page_facing_up: *Document analyzed: %s*\n\n", filename)
	fmt.Fprintf(&b, "*Complexity:* %d/10\n\n", result.ComplexityRating)
	fmt.Fprintf(&b, "%s\n", result.Summary)

	writeList(&b, ":warning: Red flags", result.RedFlagDetection)
	writeList(&b, ":moneybag: Figures and deadlines", result.FiguresExtraction)
	writeList(&b, ":mag: Ambiguous terms", result.Loopholes)

	fmt.Fprintf(&b, "\n:clock3: Processed at: %s", at.UTC().Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n*%s*\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "• %s\n", item)
	}
}

// sendMessage sends a message to the specified Slack channel
func (c *Client) sendMessage(ctx context.Context, text string, channel string) error {
	req := ChatPostMessageRequest{
		Channel:   channel,
		Text:      text,
		Username:  "Legal Doc Analyzer",
		IconEmoji: ":scales:",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.botToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&slackResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if !slackResp.OK {
		return fmt.Errorf("slack API error: %s", slackResp.Error)
	}

	return nil
}
