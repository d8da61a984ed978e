// Package langflow runs content generation flows on a Langflow server.
package langflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyOutput is returned when a flow run succeeds but yields no text.
var ErrEmptyOutput = errors.New("langflow returned no output text")

const defaultSession = "default_session"

// Request describes one generation.
type Request struct {
	Type       string
	UniverseID string
	SessionID  string
	Prompt     string
}

// Client calls a single Langflow flow over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	flowID     string
	httpClient *http.Client
}

// New creates a Client for flowID on the Langflow server at baseURL.
func New(baseURL, apiKey, flowID string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		flowID:  flowID,
		httpClient: &http.Client{
			// Deadlines come from the caller's context.
			Timeout: 0,
		},
	}
}

// flowInput is JSON-encoded into input_value.
type flowInput struct {
	UniverseID string `json:"universeId"`
	Type       string `json:"type"`
	Action     string `json:"action"`
	Prompt     string `json:"prompt,omitempty"`
}

type runRequest struct {
	InputValue string `json:"input_value"`
	SessionID  string `json:"session_id"`
	InputType  string `json:"input_type"`
	OutputType string `json:"output_type"`
}

type runResponse struct {
	Outputs json.RawMessage `json:"outputs"`
}

// Generate runs the flow for req and returns the generated text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	input, err := json.Marshal(flowInput{
		UniverseID: req.UniverseID,
		Type:       req.Type,
		Action:     "generate",
		Prompt:     req.Prompt,
	})
	if err != nil {
		return "", err
	}

	session := req.SessionID
	if session == "" {
		session = defaultSession
	}
	body, err := json.Marshal(runRequest{
		InputValue: string(input),
		SessionID:  session,
		InputType:  "json",
		OutputType: "text",
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/v1/flows/%s/run", c.baseURL, c.flowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("running flow %s: %w", c.flowID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("run flow: unexpected status %d", resp.StatusCode)
	}

	var rr runResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	text := outputText(rr.Outputs)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// outputText pulls generated text out of the several shapes Langflow uses
// for "outputs", first match wins.
func outputText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var list []json.RawMessage
	if json.Unmarshal(raw, &list) != nil || len(list) == 0 {
		return ""
	}
	if json.Unmarshal(list[0], &s) == nil {
		return s
	}

	var first struct {
		Outputs json.RawMessage `json:"outputs"`
	}
	if json.Unmarshal(list[0], &first) != nil || len(first.Outputs) == 0 {
		return ""
	}
	if json.Unmarshal(first.Outputs, &s) == nil {
		return s
	}

	var inner []json.RawMessage
	if json.Unmarshal(first.Outputs, &inner) != nil {
		return ""
	}
	var b strings.Builder
	allStrings := true
	for _, item := range inner {
		var part string
		if json.Unmarshal(item, &part) != nil {
			allStrings = false
			break
		}
		b.WriteString(part)
	}
	if allStrings && len(inner) > 0 {
		return b.String()
	}

	if len(inner) > 0 {
		var msg struct {
			Results struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"results"`
		}
		if json.Unmarshal(inner[0], &msg) == nil {
			return msg.Results.Message.Text
		}
	}
	return ""
}

// Ping checks that the server is reachable with the configured key by
// listing flows. It returns the number of flows visible.
func (c *Client) Ping(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/flows", nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("listing flows: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("list flows: unexpected status %d", resp.StatusCode)
	}

	var flows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&flows); err != nil {
		return 0, fmt.Errorf("decoding flows: %w", err)
	}
	return len(flows), nil
}
