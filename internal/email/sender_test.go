package email_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"paylink-service/internal/email"
	"paylink-service/internal/model"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIURL = "http://sendgrid.test"

func newTestSender(apiKey string) *email.Sender {
	return email.NewSender(nil, email.Config{
		APIKey: apiKey,
		From:   "billing@example.com",
		AppURL: "http://localhost:8080",
		URL:    testAPIURL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testLink() *model.PaymentLink {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.PaymentLink{
		LinkID:        "A1B2C3D4",
		CustomerEmail: "customer@example.com",
		CustomerName:  "Jane Doe",
		InvoiceNumber: "INV-A1B2C3D4",
		Description:   "Card on File Request",
		Status:        model.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
}

func TestConfigured(t *testing.T) {
	assert.True(t, newTestSender("sg-key").Configured())
	assert.False(t, newTestSender("").Configured())
}

func TestSendPaymentLink(t *testing.T) {
	defer gock.Off()
	gock.New(testAPIURL).
		Post("/v3/mail/send").
		MatchHeader("Authorization", "Bearer sg-key").
		Reply(202)

	sut := newTestSender("sg-key")
	err := sut.SendPaymentLink(context.Background(), testLink())

	require.NoError(t, err)
	assert.True(t, gock.IsDone())
}

func TestSendConfirmation_ErrorResponse(t *testing.T) {
	defer gock.Off()
	gock.New(testAPIURL).
		Post("/v3/mail/send").
		Reply(401).
		JSON(map[string]any{"errors": []map[string]string{{"message": "bad key"}}})

	sut := newTestSender("sg-key")
	err := sut.SendConfirmation(context.Background(), testLink())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestSend_NotConfigured(t *testing.T) {
	sut := newTestSender("")
	err := sut.SendPaymentLink(context.Background(), testLink())
	assert.Error(t, err)
}
