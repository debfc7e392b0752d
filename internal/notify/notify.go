// Package notify publishes a best-effort "sync.updated" event whenever a
// push transaction commits at least one record, adapted from
// adred-codev-ws_poc/go-server/pkg/nats/client.go's Client wrapper around
// nats.Connect/reconnect handling, narrowed to a single fire-and-forget
// Publish call since this service holds no long-lived subscriptions of its
// own.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the injected interface §9 calls for: "global mutable state
// is not in the core; surface it as injected interfaces to the handlers."
type Publisher interface {
	PublishUpdated(userID int64, changedRecords int)
}

// Noop is used when no SYNC_NATS_URL is configured; push/pull correctness never
// depends on notification delivery.
type Noop struct{}

func (Noop) PublishUpdated(int64, int) {}

// Client wraps a *nats.Conn, publishing to "<subjectPrefix>.<userID>".
type Client struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        zerolog.Logger
}

func Connect(url, subjectPrefix string, logger zerolog.Logger) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Client{conn: conn, subjectPrefix: subjectPrefix, logger: logger}, nil
}

func (c *Client) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}

type updatedEvent struct {
	UserID         int64 `json:"userId"`
	ChangedRecords int   `json:"changedRecords"`
	AtMsUTC        int64 `json:"atMsUtc"`
}

// PublishUpdated is best-effort: a publish failure is logged and swallowed,
// never surfaced to the push/pull caller.
func (c *Client) PublishUpdated(userID int64, changedRecords int) {
	if c == nil || c.conn == nil || changedRecords == 0 {
		return
	}
	payload, err := json.Marshal(updatedEvent{
		UserID:         userID,
		ChangedRecords: changedRecords,
		AtMsUTC:        time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%d", c.subjectPrefix, userID)
	if err := c.conn.Publish(subject, payload); err != nil {
		c.logger.Warn().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
}
