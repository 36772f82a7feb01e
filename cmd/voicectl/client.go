package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/antoniostano/voicechat/internal/chat"
	"github.com/antoniostano/voicechat/internal/voice"
)

// apiClient talks to a running voicechat server.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status    int
	Message   string `json:"error"`
	Kind      string `json:"kind"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	if e.Stage != "" {
		msg += " (stage " + e.Stage + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &apiError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(body, e); jerr != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(body))
		}
		return e
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *apiClient) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *apiClient) processVoice(ctx context.Context, filename string, audio []byte, chatID string) (voice.TurnResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return voice.TurnResult{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return voice.TurnResult{}, err
	}
	if chatID != "" {
		_ = mw.WriteField("chat_id", chatID)
	}
	if err := mw.Close(); err != nil {
		return voice.TurnResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-voice", &body)
	if err != nil {
		return voice.TurnResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out voice.TurnResult
	return out, c.do(req, &out)
}

func (c *apiClient) createChat(ctx context.Context) (string, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chats", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.ChatID, nil
}

func (c *apiClient) listChats(ctx context.Context) ([]chat.Summary, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}
	var out []chat.Summary
	return out, c.do(req, &out)
}

func (c *apiClient) getChat(ctx context.Context, id string) (chat.Session, error) {
	req, err := c.newJSONRequest(ctx, http.MethodGet, "/chats/"+id, nil)
	if err != nil {
		return chat.Session{}, err
	}
	var out chat.Session
	return out, c.do(req, &out)
}

func (c *apiClient) deleteChat(ctx context.Context, id string) error {
	req, err := c.newJSONRequest(ctx, http.MethodDelete, "/chats/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *apiClient) addMessage(ctx context.Context, id string, role chat.Role, content chat.Content) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chats/"+id+"/messages", map[string]any{
		"role":    role,
		"content": content,
	})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
