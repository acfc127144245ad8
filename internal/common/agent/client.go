// Package agent invokes hosted assistants through the Assistants API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedly-pipeline/internal/common/config"
	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/validation"

	"github.com/sashabaranov/go-openai"
)

var (
	ErrAgentNotFound        = errors.New("AGENT_NOT_FOUND")
	ErrAgentRunFailed       = errors.New("AGENT_RUN_FAILED")
	ErrInvalidAgentResponse = errors.New("INVALID_AGENT_RESPONSE")
	ErrNoAgentResponse      = errors.New("NO_AGENT_RESPONSE")
)

const listPageSize = 100

// Invoker runs a single agent call and returns its JSON object.
type Invoker interface {
	Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error)
}

// InvokerFactory builds a fresh Invoker for every attempt.
type InvokerFactory func() (Invoker, error)

// AssistantsAPI is the subset of *openai.Client used by Client.
type AssistantsAPI interface {
	ListAssistants(ctx context.Context, limit *int, order *string, after *string, before *string) (openai.AssistantsList, error)
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
	DeleteThread(ctx context.Context, threadID string) (openai.ThreadDeleteResponse, error)
}

type Client struct {
	api          AssistantsAPI
	agentIDs     map[string]string
	pollInterval time.Duration
	validator    *validation.ResponseValidator
	strict       bool
	logger       logger.Logger
}

// NewOpenAIClient builds the transport client for the configured endpoint.
func NewOpenAIClient(cfg config.AgentsConfig) *openai.Client {
	var clientCfg openai.ClientConfig
	if cfg.Azure {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
		}
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewClient wraps api. validator may be nil.
func NewClient(api AssistantsAPI, cfg config.AgentsConfig, validator *validation.ResponseValidator, log logger.Logger) *Client {
	poll := config.GetDuration(cfg.PollInterval)
	if poll <= 0 {
		poll = time.Second
	}
	return &Client{
		api:          api,
		agentIDs:     cfg.AgentIDs(),
		pollInterval: poll,
		validator:    validator,
		strict:       cfg.StrictResponse,
		logger:       log.WithFields(map[string]interface{}{"component": "agent-client"}),
	}
}

// NewClientFactory returns a factory that opens a new transport client per call.
func NewClientFactory(cfg config.AgentsConfig, validator *validation.ResponseValidator, log logger.Logger) InvokerFactory {
	return func() (Invoker, error) {
		return NewClient(NewOpenAIClient(cfg), cfg, validator, log), nil
	}
}

// Invoke sends payload as the only user message of a new thread and parses the reply.
func (c *Client) Invoke(ctx context.Context, agentName string, payload interface{}) (map[string]interface{}, error) {
	message, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode agent payload: %w", err)
	}

	agentID, err := c.resolveAgentID(ctx, agentName)
	if err != nil {
		return nil, err
	}

	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return nil, unavailable(agentName, "create thread", err)
	}
	defer c.deleteThread(ctx, thread.ID)

	c.logger.Debug("Thread created", map[string]interface{}{"agent": agentName, "threadId": thread.ID})

	if _, err := c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	}); err != nil {
		return nil, unavailable(agentName, "create message", err)
	}

	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: agentID})
	if err != nil {
		return nil, unavailable(agentName, "create run", err)
	}

	run, err = c.waitForRun(ctx, thread.ID, run)
	if err != nil {
		return nil, unavailable(agentName, "wait for run", err)
	}
	if run.Status != openai.RunStatusCompleted {
		detail := ""
		if run.LastError != nil {
			detail = fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
		}
		c.logger.Error("Run failed", map[string]interface{}{
			"agent":  agentName,
			"runId":  run.ID,
			"status": string(run.Status),
			"detail": detail,
		})
		return nil, apperrors.NewAgentRunFailedError(agentName,
			fmt.Errorf("%w: status %s, error: %s", ErrAgentRunFailed, run.Status, detail))
	}

	text, err := c.firstAssistantText(ctx, thread.ID)
	if errors.Is(err, ErrNoAgentResponse) {
		return nil, apperrors.NewInvalidAgentResponseError(agentName, err)
	}
	if err != nil {
		return nil, unavailable(agentName, "list messages", err)
	}

	c.logger.Info("Agent response received", map[string]interface{}{
		"agent": agentName,
		"chars": len(text),
	})

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(StripCodeFence(text)), &result); err != nil {
		return nil, apperrors.NewInvalidAgentResponseError(agentName, fmt.Errorf("%w: %v", ErrInvalidAgentResponse, err))
	}
	if result == nil {
		return nil, apperrors.NewInvalidAgentResponseError(agentName, fmt.Errorf("%w: response is not a JSON object", ErrInvalidAgentResponse))
	}

	if err := c.checkRequiredFields(agentName, result); err != nil {
		return nil, err
	}
	return result, nil
}

// unavailable marks a failed call to the agent service as worth redelivering.
func unavailable(agentName, op string, err error) error {
	return apperrors.NewAgentUnavailableError(agentName, fmt.Errorf("%s: %w", op, err))
}

func encodePayload(payload interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func (c *Client) resolveAgentID(ctx context.Context, agentName string) (string, error) {
	if id := c.agentIDs[agentName]; id != "" {
		return id, nil
	}

	c.logger.Info("Resolving agent by name", map[string]interface{}{"agent": agentName})

	limit := listPageSize
	var after *string
	for {
		list, err := c.api.ListAssistants(ctx, &limit, nil, after, nil)
		if err != nil {
			return "", unavailable(agentName, "list assistants", err)
		}
		for _, a := range list.Assistants {
			if a.Name != nil && *a.Name == agentName {
				return a.ID, nil
			}
		}
		if !list.HasMore || list.LastID == nil || *list.LastID == "" {
			break
		}
		after = list.LastID
	}

	return "", apperrors.NewAgentNotFoundError(agentName, ErrAgentNotFound)
}

func isTerminal(status openai.RunStatus) bool {
	switch status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return false
	}
	return true
}

func (c *Client) waitForRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	for !isTerminal(run.Status) {
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return run, ctx.Err()
		case <-timer.C:
		}

		next, err := c.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("retrieve run: %w", err)
		}
		run = next
	}
	return run, nil
}

func (c *Client) firstAssistantText(ctx context.Context, threadID string) (string, error) {
	list, err := c.api.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return "", err
	}
	for _, msg := range list.Messages {
		if msg.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, content := range msg.Content {
			if content.Text != nil {
				return content.Text.Value, nil
			}
		}
	}
	return "", ErrNoAgentResponse
}

// deleteThread runs on every exit path and only logs failures.
func (c *Client) deleteThread(ctx context.Context, threadID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := c.api.DeleteThread(cleanupCtx, threadID); err != nil {
		c.logger.Warn("Failed to delete thread", map[string]interface{}{
			"threadId": threadID,
			"error":    err.Error(),
		})
	}
}

func (c *Client) checkRequiredFields(agentName string, result map[string]interface{}) error {
	if c.validator == nil {
		return nil
	}
	vr, err := c.validator.Validate(agentName, result)
	if err != nil {
		return apperrors.NewInvalidAgentResponseError(agentName, err)
	}
	if vr.Valid {
		return nil
	}

	missing := vr.MissingFields()
	if c.strict {
		return apperrors.NewInvalidAgentResponseError(agentName,
			fmt.Errorf("%w: missing fields %s", ErrInvalidAgentResponse, strings.Join(missing, ", ")))
	}
	c.logger.Warn("Agent response missing expected fields", map[string]interface{}{
		"agent":   agentName,
		"missing": missing,
	})
	return nil
}

// StripCodeFence removes a leading ```json or ``` fence and a trailing ``` fence.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
