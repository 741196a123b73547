package impl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// llmServiceImpl is the generation gateway for Ollama and Gemini. Blocking
// calls use a client with a total timeout; streaming uses a client without
// one so long responses can flow incrementally.
type llmServiceImpl struct {
	cfg          *config.LLMConfig
	httpClient   *http.Client
	streamClient *http.Client
	retry        RetryPolicy
}

func NewLLMService(cfg *config.LLMConfig) services.LLMService {
	return &llmServiceImpl{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		streamClient: &http.Client{
			// No Timeout — streaming responses flow incrementally, so a total
			// deadline would kill long generations. Cancellation comes from ctx.
		},
		retry: DefaultRetryPolicy(),
	}
}

func (s *llmServiceImpl) Name() string {
	return fmt.Sprintf("%s/%s", s.cfg.Provider, s.cfg.Model)
}

// estimateTokens is the ceil(len/4) fallback when the provider does not
// report usage.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (s *llmServiceImpl) temperature(opts models.GenerateOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return s.cfg.Temperature
}

func (s *llmServiceImpl) maxTokens(opts models.GenerateOptions) int {
	if opts.MaxOutputTokens > 0 {
		return opts.MaxOutputTokens
	}
	return s.cfg.MaxOutputTokens
}

func (s *llmServiceImpl) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error) {
	switch s.cfg.Provider {
	case "gemini":
		return s.generateGemini(ctx, prompt, opts)
	default:
		return s.generateOllama(ctx, prompt, opts)
	}
}

func (s *llmServiceImpl) GenerateStream(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error) {
	switch s.cfg.Provider {
	case "gemini":
		return s.streamGemini(ctx, prompt, opts)
	default:
		return s.streamOllama(ctx, prompt, opts)
	}
}

// --- Ollama ---

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

func (s *llmServiceImpl) ollamaBody(prompt string, opts models.GenerateOptions, stream bool) map[string]any {
	return map[string]any{
		"model":  s.cfg.Model,
		"prompt": prompt,
		"stream": stream,
		"options": map[string]any{
			"temperature": s.temperature(opts),
			"num_predict": s.maxTokens(opts),
		},
	}
}

func (s *llmServiceImpl) generateOllama(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error) {
	var out ollamaGenerateResponse
	err := s.postJSON(ctx, s.httpClient, s.cfg.BaseURL+"/api/generate", s.ollamaBody(prompt, opts, false), &out)
	if err != nil {
		return nil, err
	}
	usage := models.TokenUsage{
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = models.TokenUsage{
			InputTokens:  estimateTokens(prompt),
			OutputTokens: estimateTokens(out.Response),
			Estimated:    true,
		}
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return &models.Generation{
		Text:         out.Response,
		Model:        s.cfg.Model,
		Usage:        usage,
		FinishReason: out.DoneReason,
	}, nil
}

// streamOllama reads the NDJSON stream and forwards deltas. The body is
// closed when the consumer's ctx ends or the stream terminates.
func (s *llmServiceImpl) streamOllama(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error) {
	payload, err := json.Marshal(s.ollamaBody(prompt, opts, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llm provider returned %d: %s", resp.StatusCode, string(data))
	}

	deltas := make(chan models.GenerationDelta)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				log.Printf("[LLM] Failed to parse stream chunk: %v (data: %.100s)", err, line)
				continue
			}
			if chunk.Response != "" {
				select {
				case deltas <- models.GenerationDelta{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				select {
				case deltas <- models.GenerationDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case deltas <- models.GenerationDelta{Err: fmt.Errorf("llm stream read failed: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		// Stream ended without a done marker; treat as complete.
		select {
		case deltas <- models.GenerationDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return deltas, nil
}

// --- Gemini ---

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

func (g geminiResponse) text() string {
	var b strings.Builder
	for _, c := range g.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func (s *llmServiceImpl) geminiBody(prompt string, opts models.GenerateOptions) map[string]any {
	return map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     s.temperature(opts),
			"maxOutputTokens": s.maxTokens(opts),
		},
	}
}

func (s *llmServiceImpl) generateGemini(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", s.cfg.BaseURL, s.cfg.Model, s.cfg.APIKey)
	var out geminiResponse
	if err := s.postJSON(ctx, s.httpClient, url, s.geminiBody(prompt, opts), &out); err != nil {
		return nil, err
	}
	text := out.text()
	usage := models.TokenUsage{
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(text),
		Estimated:    true,
	}
	if out.UsageMetadata != nil {
		usage = models.TokenUsage{
			InputTokens:  out.UsageMetadata.PromptTokenCount,
			OutputTokens: out.UsageMetadata.CandidatesTokenCount,
		}
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	finish := ""
	if len(out.Candidates) > 0 {
		finish = out.Candidates[0].FinishReason
	}
	return &models.Generation{Text: text, Model: s.cfg.Model, Usage: usage, FinishReason: finish}, nil
}

// streamGemini reads the SSE stream from :streamGenerateContent.
func (s *llmServiceImpl) streamGemini(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", s.cfg.BaseURL, s.cfg.Model, s.cfg.APIKey)
	payload, err := json.Marshal(s.geminiBody(prompt, opts))
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llm provider returned %d: %s", resp.StatusCode, string(data))
	}

	deltas := make(chan models.GenerationDelta)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				log.Printf("[LLM] Failed to parse SSE chunk: %v (data: %.100s)", err, data)
				continue
			}
			if text := chunk.text(); text != "" {
				select {
				case deltas <- models.GenerationDelta{Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case deltas <- models.GenerationDelta{Err: fmt.Errorf("llm stream read failed: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case deltas <- models.GenerationDelta{Done: true}:
		case <-ctx.Done():
		}
	}()
	return deltas, nil
}

func (s *llmServiceImpl) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	url := s.cfg.BaseURL + "/api/tags"
	if s.cfg.Provider == "gemini" {
		url = fmt.Sprintf("%s/v1beta/models?key=%s", s.cfg.BaseURL, s.cfg.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm provider unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (s *llmServiceImpl) postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal llm request: %w", err)
	}
	return Retry(ctx, s.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("llm request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			data, _ := io.ReadAll(resp.Body)
			return Permanent(fmt.Errorf("llm provider returned %d: %s", resp.StatusCode, string(data)))
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("llm provider returned %d: %s", resp.StatusCode, string(data))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
