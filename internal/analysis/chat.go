package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"calorielog/internal/domain"
)

// Instruction is the prompt sent with every image.
const Instruction = `Analyze this food image and provide the following information in JSON format: 1) Identify all food items in the image, 2) Estimate calories for each item, 3) Calculate total calories, 4) List main nutrients (protein, carbs, fat) if possible. Format response as valid JSON only with this structure: {"items": [{"name": "food name", "calories": number, "protein": number, "carbs": number, "fat": number}], "totalCalories": number}`

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ChatConfig configures the remote chat-completion endpoint.
type ChatConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	SiteURL  string
	SiteName string
}

// ChatStrategy asks an OpenAI-compatible chat completion API to describe the
// image.
type ChatStrategy struct {
	cfg    ChatConfig
	client *http.Client
}

// NewChatStrategy creates a ChatStrategy. A nil client gets a default one
// with a 60s timeout.
func NewChatStrategy(cfg ChatConfig, client *http.Client) *ChatStrategy {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ChatStrategy{cfg: cfg, client: client}
}

func (c *ChatStrategy) Name() string { return "remote" }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze sends the image as a base64 data URI and parses the JSON object
// found in the reply.
func (c *ChatStrategy) Analyze(ctx context.Context, image []byte) (*domain.RawAnalysis, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("LLM API key not configured")
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: Instruction},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)}},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.SiteURL)
	}
	if c.cfg.SiteName != "" {
		req.Header.Set("X-Title", c.cfg.SiteName)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := "Unknown error"
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, msg)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return nil, errors.New("no content in API response")
	}
	return ParseContent(chatResp.Choices[0].Message.Content)
}

// ParseContent extracts the analysis JSON from a model reply, which may wrap
// the object in prose or code fences.
func ParseContent(content string) (*domain.RawAnalysis, error) {
	if m := jsonObject.FindString(content); m != "" {
		content = m
	}
	var raw domain.RawAnalysis
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	return &raw, nil
}
