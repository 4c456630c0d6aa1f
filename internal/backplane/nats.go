package backplane

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/twinelabs/twine/internal/models"
)

// connectTimeout bounds the startup retry loop for the initial NATS
// connection.
const connectTimeout = 30 * time.Second

// NATS is a core pub/sub backplane bridging rooms across relay instances.
// Messages travel as JSON on one subject per room.
type NATS struct {
	conn *nats.Conn
}

// ConnectNATS dials the NATS server, retrying with exponential backoff
// until it connects or the timeout elapses. Reconnects after startup are
// handled by the client itself.
func ConnectNATS(ctx context.Context, url string) (*NATS, error) {
	conn, err := backoff.Retry(ctx, func() (*nats.Conn, error) {
		return nats.Connect(url,
			nats.Name("twine"),
			nats.MaxReconnects(-1),
		)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(connectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}

	log.Info().Str("url", url).Msg("nats backplane connected")

	return &NATS{conn: conn}, nil
}

// subjectFor encodes the room name so arbitrary room strings (spaces, dots)
// map onto a valid NATS subject token.
func subjectFor(room string) string {
	return "twine.room." + base64.RawURLEncoding.EncodeToString([]byte(room))
}

func (b *NATS) Publish(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.conn.Publish(subjectFor(msg.Room), data); err != nil {
		return fmt.Errorf("failed to publish to nats: %w", err)
	}
	return nil
}

func (b *NATS) Subscribe(room string, fn Handler) (func() error, error) {
	sub, err := b.conn.Subscribe(subjectFor(room), func(m *nats.Msg) {
		var msg models.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Warn().Err(err).Str("room", room).Msg("dropping undecodable backplane message")
			return
		}
		fn(&msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to room %q: %w", room, err)
	}
	return sub.Unsubscribe, nil
}

func (b *NATS) Close() error {
	return b.conn.Drain()
}
