// Package analyzer extracts bibliographic metadata and a safety verdict from
// an uploaded document using a generative language model.
package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/archivia-api/pkg/config"
)

// ErrOverloaded signals the model is rate limiting or temporarily down; the
// caller should ask the user to retry later.
var ErrOverloaded = errors.New("analyzer overloaded")

// ErrNoVerdict is returned when a reply omits the is_safe verdict.
var ErrNoVerdict = errors.New("analyzer reply has no safety verdict")

// Metadata is what the model extracts from a document.
type Metadata struct {
	Title        string   `json:"title"`
	Authors      []string `json:"authors"`
	Keywords     []string `json:"keywords"`
	DateCreated  string   `json:"date_created"`
	Journal      string   `json:"journal"`
	Abstract     string   `json:"abstract"`
	IsSafe       bool     `json:"is_safe"`
	SafetyReason string   `json:"safety_reason"`
}

// Analyzer inspects document bytes.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, mimeType string) (*Metadata, error)
}

const prompt = `You are cataloguing a research paper for a university repository.
Return ONLY a JSON object with these fields:
{"title": string, "authors": [string], "keywords": [string], "date_created": "YYYY-MM-DD" or "",
 "journal": string, "abstract": string, "is_safe": boolean, "safety_reason": string}
Set is_safe to false when the document contains explicit, hateful, violent or otherwise
inappropriate content, or is clearly not an academic paper, and explain why in safety_reason.
Keep the title exactly as printed on the document.`

// GeminiAnalyzer calls the Gemini generateContent REST endpoint.
type GeminiAnalyzer struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGeminiAnalyzer builds an analyzer from config.
func NewGeminiAnalyzer(cfg config.AnalyzerConfig) *GeminiAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &GeminiAnalyzer{
		endpoint: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
	}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content              `json:"contents"`
	GenerationConfig map[string]interface{} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, data []byte, mimeType string) (*Metadata, error) {
	if a.apiKey == "" {
		return nil, errors.New("analyzer api key not configured")
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}},
		}}},
		GenerationConfig: map[string]interface{}{"responseMimeType": "application/json", "temperature": 0},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyzer request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", a.endpoint, a.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call analyzer: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d", ErrOverloaded, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("analyzer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode analyzer response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("analyzer returned no candidates")
	}
	return ParseMetadata(out.Candidates[0].Content.Parts[0].Text)
}

// ParseMetadata decodes a model reply, tolerating markdown code fences.
func ParseMetadata(raw string) (*Metadata, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply struct {
		Metadata
		IsSafe *bool `json:"is_safe"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("parse analyzer metadata: %w", err)
	}
	if reply.IsSafe == nil {
		return nil, ErrNoVerdict
	}
	meta := reply.Metadata
	meta.IsSafe = *reply.IsSafe
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Authors == nil {
		meta.Authors = []string{}
	}
	if meta.Keywords == nil {
		meta.Keywords = []string{}
	}
	return &meta, nil
}
