package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Remote delegates each unit of work to an agent service that exposes
// POST /api/agents/{id}/chat.
type Remote struct {
	client *resty.Client
	logger *zap.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRemote creates a worker calling the agent service at endpoint.
func NewRemote(endpoint string, timeout time.Duration, logger *zap.Logger) *Remote {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Remote{client: client, logger: logger}
}

// Execute implements workflow.WorkerExecutor.
func (r *Remote) Execute(ctx context.Context, member, input string) (string, error) {
	var out chatResponse
	var apiErr errorResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetPathParam("member", member).
		SetBody(chatRequest{Message: input}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/agents/{member}/chat")
	if err != nil {
		return "", fmt.Errorf("call agent %s: %w", member, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("agent %s: status %d: %s", member, resp.StatusCode(), msg)
	}
	if out.Content == "" {
		return "", fmt.Errorf("agent %s returned no content", member)
	}

	r.logger.Debug("remote work done",
		zap.String("member", member),
		zap.Duration("took", resp.Time()))
	return out.Content, nil
}
