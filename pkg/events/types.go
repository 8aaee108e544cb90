package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

const TopicLifecycle = "backendctl.lifecycle"

const (
	TypeRunStarted   = "run.started"
	TypeEnvResolved  = "env.resolved"
	TypeEnvAbsent    = "env.absent"
	TypeInitStarted  = "init.started"
	TypeInitFinished = "init.finished"
	TypeServerStart  = "server.started"
	TypeServerReady  = "server.ready"
	TypeServerExited = "server.exited"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RunStarted struct {
	Root string    `json:"root"`
	At   time.Time `json:"at"`
}

type EnvResolved struct {
	Path   string `json:"path"`
	BinDir string `json:"bin_dir"`
}

type EnvAbsent struct {
	Path string `json:"path"`
}

type InitStarted struct {
	Command []string `json:"command"`
}

type InitFinished struct {
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

type ServerStarted struct {
	Command []string `json:"command"`
	Addr    string   `json:"addr"`
}

type ServerReady struct {
	Addr string `json:"addr"`
}

type ServerExited struct {
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`
}

func NewEnvelope(typ string, payload any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, errors.New("empty envelope type")
	}
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal envelope payload")
	}
	return Envelope{Type: typ, Payload: b}, nil
}

// Publish wraps payload in an Envelope and publishes it on the lifecycle
// topic. A nil publisher is a no-op so the launcher can run without a bus.
func Publish(pub message.Publisher, typ string, payload any) error {
	if pub == nil {
		return nil
	}
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return errors.Wrap(pub.Publish(TopicLifecycle, message.NewMessage(watermill.NewUUID(), b)), "publish lifecycle event")
}
