package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultInlineLimit is the largest attachment total sent inline. The API caps
// an inline request at 20 MB after base64 encoding, which grows data by a third.
const DefaultInlineLimit = 14 << 20

// filePollInterval is how often an uploaded file is checked while processing
const filePollInterval = 2 * time.Second

// Common Gemini errors
var (
	ErrEmptyResponse    = errors.New("no content in response")
	ErrFileNotProcessed = errors.New("uploaded file could not be processed")
)

// Client handles Gemini API operations
type Client struct {
	client      *genai.Client
	model       string
	inlineLimit int
}

// Attachment is raw file content passed alongside the prompt
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is a single generation call. A non-nil Schema requests JSON output
// constrained to that schema.
type Request struct {
	Prompt      string
	Texts       []string
	Attachments []Attachment
	Schema      *genai.Schema
}

// NewClient creates a new Gemini API client. baseURL overrides the API endpoint
// and is empty in production.
func NewClient(ctx context.Context, apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}

	return &Client{client: client, model: model, inlineLimit: DefaultInlineLimit}, nil
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Generate sends the request to the model and returns the response text.
// Attachments go inline while their total fits under the inline limit;
// larger ones are uploaded through the Files API and referenced by URI.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, text := range req.Texts {
		parts = append(parts, genai.NewPartFromText(text))
	}

	total := 0
	for _, att := range req.Attachments {
		total += len(att.Data)
	}
	for _, att := range req.Attachments {
		if total <= c.inlineLimit {
			parts = append(parts, genai.NewPartFromBytes(att.Data, att.MIMEType))
			continue
		}
		file, err := c.uploadFile(ctx, att)
		if err != nil {
			return "", err
		}
		// Uploaded files expire on their own after 48 hours; deleting early is best effort.
		defer c.client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil)
		parts = append(parts, genai.NewPartFromURI(file.URI, file.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var genCfg *genai.GenerateContentConfig
	if req.Schema != nil {
		genCfg = &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   req.Schema,
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("generating content with %s: %w", c.model, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// uploadFile stores an attachment with the Files API and waits until the
// service has finished processing it.
func (c *Client) uploadFile(ctx context.Context, att Attachment) (*genai.File, error) {
	file, err := c.client.Files.Upload(ctx, bytes.NewReader(att.Data), &genai.UploadFileConfig{MIMEType: att.MIMEType})
	if err != nil {
		return nil, fmt.Errorf("uploading %s attachment: %w", att.MIMEType, err)
	}

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}
		file, err = c.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("checking uploaded file: %w", err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, fmt.Errorf("%w: %s", ErrFileNotProcessed, file.Name)
	}
	if file.MIMEType == "" {
		file.MIMEType = att.MIMEType
	}
	return file, nil
}
