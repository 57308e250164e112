// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/holomush/stepup/internal/auth"
)

// LogNotifier writes messages to a logger instead of delivering them.
// The body, which carries the passcode, is logged at debug level only.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send implements auth.Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg auth.Message) error {
	n.logger.InfoContext(ctx, "notification", "recipient", msg.Recipient, "title", msg.Title)
	n.logger.DebugContext(ctx, "notification body", "recipient", msg.Recipient, "body", msg.Body)
	return nil
}
