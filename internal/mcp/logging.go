package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matsjfunke/header-test-mcp/internal/session"
	"go.lsp.dev/jsonrpc2"
)

// RFC 5424 severities, least severe first.
var logLevels = []string{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"}

func logLevelRank(level string) int {
	for i, l := range logLevels {
		if l == level {
			return i
		}
	}
	return -1
}

func validLogLevel(level string) error {
	if logLevelRank(level) < 0 {
		return fmt.Errorf("unsupported log level %q", level)
	}
	return nil
}

// publishLog sends a notifications/message to the session's standalone stream
// when the client asked for messages at level or above.
func publishLog(sess *session.Session, level, logger string, data any) error {
	if sess == nil {
		return nil
	}
	floor := sess.LogLevel()
	if floor == "" || logLevelRank(level) < logLevelRank(floor) {
		return nil
	}
	n, err := jsonrpc2.NewNotification(NotificationMessage, logMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := sess.Events().Publish(session.StandaloneStream, raw); err != nil && !errors.Is(err, session.ErrClosed) {
		return err
	}
	return nil
}
