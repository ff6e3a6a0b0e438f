// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rag-service-go/internal/config"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 system + user 两条消息调用聊天接口，返回完整的模型输出文本。
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// openAIClient 通过 OpenAI 兼容接口调用模型（LM Studio、DeepSeek 等）。
type openAIClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the config.
func NewClient(cfg config.LLMConfig) Client {
	return &openAIClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: maxTokens,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat api 返回了空的 choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ExtractJSON 从模型输出中尽力提取 JSON 片段。
// 依次尝试：去掉 Markdown 代码围栏后直接解析；失败则截取首个
// '{' 或 '[' 到最后一个对应闭合符之间的片段再解析。
func ExtractJSON(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("模型返回内容为空")
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) >= 3 {
			text = strings.Join(lines[1:len(lines)-1], "\n")
		}
		text = strings.ReplaceAll(text, "```json", "")
		text = strings.ReplaceAll(text, "```", "")
		text = strings.TrimSpace(text)
	}

	if json.Valid([]byte(text)) {
		return []byte(text), nil
	}

	if frag, ok := extractSpan(text); ok {
		return frag, nil
	}
	return nil, fmt.Errorf("无法从模型输出中提取 JSON: %s", snippet(text, 200))
}

// extractSpan 在文本中寻找最靠前的 JSON 对象或数组片段。
func extractSpan(text string) ([]byte, bool) {
	start, closer := -1, byte(0)
	if s := strings.IndexByte(text, '{'); s != -1 && strings.LastIndexByte(text, '}') > s {
		start, closer = s, '}'
	}
	if s := strings.IndexByte(text, '['); s != -1 && strings.LastIndexByte(text, ']') > s {
		if start == -1 || s < start {
			start, closer = s, ']'
		}
	}
	if start == -1 {
		return nil, false
	}

	end := strings.LastIndexByte(text, closer)
	frag := []byte(text[start : end+1])
	if !json.Valid(frag) {
		return nil, false
	}
	return frag, true
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
