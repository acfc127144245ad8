// internal/workers/pipeline/notify-opportunity/handler_test.go
package notifyopportunity

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "feedly-pipeline/internal/common/errors"
	"feedly-pipeline/internal/common/journal"
	"feedly-pipeline/internal/common/logger"
	"feedly-pipeline/internal/common/queue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type MockEmail struct {
	SendTextFunc func(ctx context.Context, from string, to []string, subject, body string) (string, error)
	subjects     []string
	bodies       []string
}

func (m *MockEmail) SendText(ctx context.Context, from string, to []string, subject, body string) (string, error) {
	m.subjects = append(m.subjects, subject)
	m.bodies = append(m.bodies, body)
	if m.SendTextFunc != nil {
		return m.SendTextFunc(ctx, from, to, subject, body)
	}
	return "ses-1", nil
}

type MockTopic struct {
	PublishToTopicFunc func(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error)
	attributes         []map[string]string
}

func (m *MockTopic) PublishToTopic(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error) {
	m.attributes = append(m.attributes, attributes)
	if m.PublishToTopicFunc != nil {
		return m.PublishToTopicFunc(ctx, topicARN, subject, message, attributes)
	}
	return "sns-1", nil
}

type MockJournal struct {
	entries []journal.Entry
}

func (m *MockJournal) Record(ctx context.Context, e journal.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *MockJournal) History(ctx context.Context, docID string) ([]journal.Entry, error) {
	return m.entries, nil
}

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		InputQueue:   "q-opportunities",
		EmailEnabled: true,
		FromEmail:    "leads@example.com",
		Recipients:   []string{"sales@example.com"},
		SNSEnabled:   true,
		TopicARN:     "arn:aws:sns:eu-west-1:123456789012:opportunities",
		AWSRegion:    "eu-west-1",
		Timeout:      5 * time.Second,
	}
}

const opportunityBody = `{"id":"6ca13d52ca70c883e0f0bb101e425a89","title":"New Arena","vertical":"Stadium","city":"Madrid","country":null,"evaluationScore":80,"auditOpportunityReason":"Large venue"}`

func newTestHandler(t *testing.T, cfg *Config, email EmailSender, topic TopicPublisher, j journal.Journal) *Handler {
	h := NewHandler(cfg, email, topic, j, logger.NewTestLogger(t))
	h.now = func() time.Time { return time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC) }
	return h
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	email := &MockEmail{}
	topic := &MockTopic{}
	j := &MockJournal{}

	out, err := newTestHandler(t, createTestConfig(), email, topic, j).Execute(context.Background(), []byte(opportunityBody))
	require.NoError(t, err)

	assert.Equal(t, StatusSent, out.Status)
	assert.Equal(t, "2026-05-10T12:00:00Z", out.SentAt)
	_, err = uuid.Parse(out.NotificationID)
	assert.NoError(t, err)

	require.Len(t, email.subjects, 1)
	assert.Equal(t, "Audit opportunity: New Arena (80)", email.subjects[0])
	assert.Contains(t, email.bodies[0], "Reason: Large venue")
	assert.Contains(t, email.bodies[0], "Location: Madrid, \n")
	assert.NotContains(t, email.bodies[0], "{{")

	require.Len(t, topic.attributes, 1)
	assert.Equal(t, "80", topic.attributes[0]["evaluationScore"])
	assert.Equal(t, "6ca13d52ca70c883e0f0bb101e425a89", topic.attributes[0]["docId"])

	require.Len(t, j.entries, 1)
	assert.Equal(t, journal.StatusSucceeded, j.entries[0].Status)
	assert.Equal(t, StatusSent, j.entries[0].Detail)
}

func TestHandler_Execute_Channels(t *testing.T) {
	tests := []struct {
		name       string
		email      bool
		sns        bool
		recipients []string
		wantStatus string
		wantEmails int
		wantTopics int
	}{
		{name: "email only", email: true, recipients: []string{"a@example.com"}, wantStatus: StatusSent, wantEmails: 1},
		{name: "sns only", sns: true, wantStatus: StatusSent, wantTopics: 1},
		{name: "all disabled", wantStatus: StatusDisabled},
		{name: "email without recipients", email: true, wantStatus: StatusDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestConfig()
			cfg.EmailEnabled = tt.email
			cfg.SNSEnabled = tt.sns
			cfg.Recipients = tt.recipients
			email := &MockEmail{}
			topic := &MockTopic{}

			out, err := newTestHandler(t, cfg, email, topic, nil).Execute(context.Background(), []byte(opportunityBody))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Len(t, email.subjects, tt.wantEmails)
			assert.Len(t, topic.attributes, tt.wantTopics)
		})
	}
}

func TestHandler_Handle(t *testing.T) {
	email := &MockEmail{}
	h := newTestHandler(t, createTestConfig(), email, &MockTopic{}, nil)

	err := h.Handle(context.Background(), &queue.Delivery{ID: "d1", Body: []byte(opportunityBody), DeliveryCount: 1})
	require.NoError(t, err)
	assert.Len(t, email.subjects, 1)
}

func TestHandler_Handle_RedeliverySkipsSentChannels(t *testing.T) {
	email := &MockEmail{}
	var publishes int
	topic := &MockTopic{PublishToTopicFunc: func(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error) {
		publishes++
		if publishes == 1 {
			return "", errors.New("throttled")
		}
		return "sns-2", nil
	}}
	j := &MockJournal{}
	h := newTestHandler(t, createTestConfig(), email, topic, j)

	d := &queue.Delivery{ID: "msg-1", Body: []byte(opportunityBody), DeliveryCount: 1}
	err := h.Handle(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotificationSendFailed, apperrors.CodeOf(err))

	d.DeliveryCount = 2
	require.NoError(t, h.Handle(context.Background(), d))

	assert.Len(t, email.subjects, 1)
	assert.Len(t, topic.attributes, 2)

	var details []string
	for _, e := range j.entries {
		details = append(details, e.Status+"/"+e.Detail)
	}
	assert.Equal(t, []string{
		"succeeded/email:msg-1",
		"failed/sns",
		"succeeded/sns:msg-1",
		"succeeded/sent",
	}, details)

	// a different message for the same document notifies again
	require.NoError(t, h.Handle(context.Background(), &queue.Delivery{ID: "msg-2", Body: []byte(opportunityBody), DeliveryCount: 1}))
	assert.Len(t, email.subjects, 2)
}

func TestHandler_Handle_JournalDisabledResendsAll(t *testing.T) {
	email := &MockEmail{}
	var publishes int
	topic := &MockTopic{PublishToTopicFunc: func(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error) {
		publishes++
		if publishes == 1 {
			return "", errors.New("throttled")
		}
		return "sns-2", nil
	}}
	h := newTestHandler(t, createTestConfig(), email, topic, nil)

	d := &queue.Delivery{ID: "msg-1", Body: []byte(opportunityBody), DeliveryCount: 1}
	require.Error(t, h.Handle(context.Background(), d))
	require.NoError(t, h.Handle(context.Background(), d))

	assert.Len(t, email.subjects, 2)
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]interface{}
		want string
	}{
		{name: "string", tmpl: "Hi {{name}}", data: map[string]interface{}{"name": "Ana"}, want: "Hi Ana"},
		{name: "whole number", tmpl: "{{n}}", data: map[string]interface{}{"n": float64(45000)}, want: "45000"},
		{name: "fraction", tmpl: "{{n}}", data: map[string]interface{}{"n": 1.5}, want: "1.5"},
		{name: "null", tmpl: "[{{x}}]", data: map[string]interface{}{"x": nil}, want: "[]"},
		{name: "missing", tmpl: "a{{missing}}b", data: map[string]interface{}{}, want: "ab"},
		{name: "unterminated", tmpl: "a{{b", data: nil, want: "a{{b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderTemplate(tt.tmpl, tt.data))
		})
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Failures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		emailErr  error
		topicErr  error
		wantCode  apperrors.ErrorCode
		journaled bool
	}{
		{name: "invalid json", body: `[`, wantCode: apperrors.ErrCodeInvalidMessage},
		{name: "missing id", body: `{"title":"x"}`, wantCode: apperrors.ErrCodeInvalidMessage},
		{name: "email fails", body: opportunityBody, emailErr: errors.New("throttled"), wantCode: apperrors.ErrCodeNotificationSendFailed, journaled: true},
		{name: "sns fails", body: opportunityBody, topicErr: errors.New("denied"), wantCode: apperrors.ErrCodeNotificationSendFailed, journaled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &MockEmail{SendTextFunc: func(ctx context.Context, from string, to []string, subject, body string) (string, error) {
				return "", tt.emailErr
			}}
			topic := &MockTopic{PublishToTopicFunc: func(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error) {
				return "", tt.topicErr
			}}
			j := &MockJournal{}

			out, err := newTestHandler(t, createTestConfig(), email, topic, j).Execute(context.Background(), []byte(tt.body))

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			if tt.journaled {
				require.NotNil(t, out)
				assert.Equal(t, StatusFailed, out.Status)
				require.Len(t, j.entries, 1)
				assert.Equal(t, journal.StatusFailed, j.entries[0].Status)
			} else {
				assert.Empty(t, j.entries)
			}
		})
	}
}
