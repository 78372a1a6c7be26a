package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// APIResponse mirrors the server envelope.
type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details,omitempty"`
	} `json:"error,omitempty"`
}

type SessionInfo struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	IsDefault bool   `json:"isDefault"`
	State     string `json:"state"`
	Phase     string `json:"phase"`
	JID       string `json:"jid"`
	PendingQR string `json:"pendingQr"`
	Retries   int    `json:"retries"`
	Ready     bool   `json:"ready"`
	LastError string `json:"lastError"`
}

type JobInfo struct {
	JobID     string `json:"jobId"`
	Owner     string `json:"ownerUserId"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

type JobTarget struct {
	Name           string   `json:"name,omitempty"`
	Phone          string   `json:"phone"`
	SecondaryPhone string   `json:"secondaryPhone,omitempty"`
	Messages       []string `json:"messages"`
}

type submitPayload struct {
	UserID       string      `json:"userId"`
	SessionID    string      `json:"sessionId,omitempty"`
	DelaySeconds int         `json:"delaySeconds"`
	Targets      []JobTarget `json:"targets"`
}

// DispatchClient talks to the dispatch HTTP API.
type DispatchClient struct {
	BaseURL string
	http    *http.Client
}

func NewDispatchClient(baseURL string, timeout time.Duration) *DispatchClient {
	return &DispatchClient{
		BaseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *DispatchClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var res APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if !res.Success {
		if res.Error != nil && res.Error.Details != "" {
			return fmt.Errorf("%s: %s (%s)", res.Message, res.Error.Details, res.Error.Code)
		}
		return fmt.Errorf("%s (HTTP %d)", res.Message, resp.StatusCode)
	}
	if out == nil || len(res.Data) == 0 {
		return nil
	}
	return json.Unmarshal(res.Data, out)
}

func (c *DispatchClient) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func sessionPath(userID, sessionID, action string) string {
	p := "/api/sessions/" + url.PathEscape(userID)
	if action != "" {
		p += "/" + action
	}
	if sessionID != "" {
		p += "?session=" + url.QueryEscape(sessionID)
	}
	return p
}

func (c *DispatchClient) Connect(ctx context.Context, userID, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	err := c.doJSON(ctx, http.MethodPost, sessionPath(userID, sessionID, "connect"), nil, &info)
	return info, err
}

func (c *DispatchClient) Disconnect(ctx context.Context, userID, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(userID, sessionID, "disconnect"), nil, nil)
}

func (c *DispatchClient) Status(ctx context.Context, userID, sessionID string) (SessionInfo, error) {
	var info SessionInfo
	err := c.doJSON(ctx, http.MethodGet, sessionPath(userID, sessionID, "status"), nil, &info)
	return info, err
}

func (c *DispatchClient) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	var infos []SessionInfo
	err := c.doJSON(ctx, http.MethodGet, sessionPath(userID, "", ""), nil, &infos)
	return infos, err
}

func (c *DispatchClient) SubmitJob(ctx context.Context, userID, sessionID string, delaySeconds int, targets []JobTarget) (string, error) {
	var res struct {
		JobID string `json:"jobId"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs", submitPayload{
		UserID:       userID,
		SessionID:    sessionID,
		DelaySeconds: delaySeconds,
		Targets:      targets,
	}, &res)
	return res.JobID, err
}

// ImportJob uploads an xlsx target sheet.
func (c *DispatchClient) ImportJob(ctx context.Context, userID, sessionID, message string, delaySeconds int, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"userId":       userID,
		"sessionId":    sessionID,
		"message":      message,
		"delaySeconds": strconv.Itoa(delaySeconds),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", err
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var res struct {
		JobID string `json:"jobId"`
	}
	err = c.do(ctx, http.MethodPost, "/api/jobs/import", &buf, w.FormDataContentType(), &res)
	return res.JobID, err
}

func (c *DispatchClient) Job(ctx context.Context, jobID string) (JobInfo, error) {
	var info JobInfo
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &info)
	return info, err
}

func (c *DispatchClient) CancelJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(jobID), nil, nil)
}

// WaitJob polls until the job leaves the running state.
func (c *DispatchClient) WaitJob(ctx context.Context, jobID string, every time.Duration, onTick func(JobInfo)) (JobInfo, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		info, err := c.Job(ctx, jobID)
		if err != nil {
			return info, err
		}
		if onTick != nil {
			onTick(info)
		}
		if info.Status != "running" {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		case <-ticker.C:
		}
	}
}
