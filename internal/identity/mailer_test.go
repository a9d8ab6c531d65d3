package identity

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogMailerKeepsActionLinksOutOfInfoLogs(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name          string
		level         zapcore.Level
		expectEntries int
		expectURL     bool
	}{
		{name: "info", level: zapcore.InfoLevel, expectEntries: 1, expectURL: false},
		{name: "debug", level: zapcore.DebugLevel, expectEntries: 2, expectURL: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(testCase.level)
			mailer := NewLogMailer(zap.New(core))
			message := Message{
				To:        "a@b.com",
				Purpose:   PurposePasswordReset,
				Subject:   "Reset your password",
				ActionURL: "https://app.example.com/reset-password?oobCode=secret-code",
				Code:      "secret-code",
			}
			if err := mailer.Send(context.Background(), message); err != nil {
				t.Fatalf("send: %v", err)
			}
			entries := logs.All()
			if len(entries) != testCase.expectEntries {
				t.Fatalf("expected %d entries, got %d", testCase.expectEntries, len(entries))
			}
			foundURL := false
			for _, entry := range entries {
				actionURL, ok := entry.ContextMap()["action_url"]
				if !ok {
					continue
				}
				if entry.Level != zapcore.DebugLevel {
					t.Fatalf("action url logged at %s", entry.Level)
				}
				foundURL = actionURL == message.ActionURL
			}
			if foundURL != testCase.expectURL {
				t.Fatalf("expected action url present=%v, got %v", testCase.expectURL, foundURL)
			}
		})
	}
}
