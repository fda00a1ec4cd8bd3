package gateway

import (
	"context"

	"github.com/google/uuid"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

// LogGateway accepts every send and only logs it. It is meant for local
// runs without Firebase credentials.
type LogGateway struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *LogGateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogGateway{log: log}
}

func (g *LogGateway) Name() string { return "log" }

func (g *LogGateway) Send(ctx context.Context, aud push.Audience, p push.Payload) (push.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return push.Delivery{}, push.GatewayError("send", err)
	}
	if err := aud.Validate(); err != nil {
		return push.Delivery{}, err
	}
	if aud.Kind() == push.AudienceGroup {
		if err := push.ValidGroup(aud.GroupName()); err != nil {
			return push.Delivery{}, err
		}
	}
	n := aud.Size()
	if n < 0 {
		n = 1
	}
	d := push.Delivery{MessageID: uuid.NewString(), SuccessCount: n}
	g.log.Info("push (log gateway)",
		logx.String("audience", aud.String()),
		logx.String("title", p.Title),
		logx.String("body", p.Body),
		logx.String("message_id", d.MessageID),
	)
	return d, nil
}

func (g *LogGateway) Subscribe(ctx context.Context, token, group string) error {
	if token == "" {
		return push.InvalidInput("token is required")
	}
	if err := push.ValidGroup(group); err != nil {
		return err
	}
	g.log.Debug("subscribe (log gateway)", logx.String("group", group))
	return ctx.Err()
}
