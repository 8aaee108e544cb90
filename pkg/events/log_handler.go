package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// LogHandler returns a router handler that logs every lifecycle event at
// debug level.
func LogHandler(logger zerolog.Logger) func(*message.Message) error {
	return func(msg *message.Message) error {
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			return errors.Wrap(err, "unmarshal lifecycle envelope")
		}
		logger.Debug().Str("event", env.Type).RawJSON("payload", payloadOrNull(env.Payload)).Msg("lifecycle event")
		return nil
	}
}

func payloadOrNull(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage("null")
	}
	return p
}
