package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

// FCM accepts at most 500 tokens per multicast.
const multicastLimit = 500

// messagingClient is the subset of *messaging.Client used here.
type messagingClient interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, m *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SendEachForMulticastDryRun(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

type fcmGateway struct {
	client messagingClient
	dryRun bool
	log    logx.Logger
}

func newFCM(ctx context.Context, cfg Config, log logx.Logger) (*fcmGateway, error) {
	var fbCfg *firebase.Config
	if pid := strings.TrimSpace(cfg.ProjectID); pid != "" {
		fbCfg = &firebase.Config{ProjectID: pid}
	}
	var opts []option.ClientOption
	if cred := strings.TrimSpace(cfg.CredentialsFile); cred != "" {
		opts = append(opts, option.WithCredentialsFile(cred))
	}

	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	log.Info("fcm gateway ready", logx.Bool("dry_run", cfg.DryRun), logx.Bool("credentials_file", len(opts) > 0))
	return &fcmGateway{client: client, dryRun: cfg.DryRun, log: log}, nil
}

func (g *fcmGateway) Name() string { return "fcm" }

func notification(p push.Payload) (*messaging.Notification, *messaging.WebpushConfig) {
	n := &messaging.Notification{Title: p.Title, Body: p.Body, ImageURL: p.Icon}
	wp := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: p.Title,
			Body:  p.Body,
			Icon:  p.Icon,
		},
	}
	return n, wp
}

func (g *fcmGateway) Send(ctx context.Context, aud push.Audience, p push.Payload) (push.Delivery, error) {
	if err := aud.Validate(); err != nil {
		return push.Delivery{}, err
	}
	switch aud.Kind() {
	case push.AudienceSingle:
		return g.sendOne(ctx, &messaging.Message{Token: aud.Recipient()}, p)
	case push.AudienceGroup:
		if err := push.ValidGroup(aud.GroupName()); err != nil {
			return push.Delivery{}, err
		}
		return g.sendOne(ctx, &messaging.Message{Topic: aud.GroupName()}, p)
	default:
		return g.sendMulticast(ctx, aud.Recipients(), p)
	}
}

func (g *fcmGateway) sendOne(ctx context.Context, m *messaging.Message, p push.Payload) (push.Delivery, error) {
	m.Notification, m.Webpush = notification(p)
	send := g.client.Send
	if g.dryRun {
		send = g.client.SendDryRun
	}
	id, err := send(ctx, m)
	if err != nil {
		return push.Delivery{FailureCount: 1}, push.GatewayError("send", err)
	}
	return push.Delivery{MessageID: id, SuccessCount: 1}, nil
}

func (g *fcmGateway) sendMulticast(ctx context.Context, tokens []string, p push.Payload) (push.Delivery, error) {
	var d push.Delivery
	if len(tokens) == 0 {
		return d, nil
	}
	send := g.client.SendEachForMulticast
	if g.dryRun {
		send = g.client.SendEachForMulticastDryRun
	}

	var firstErr error
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		mm := &messaging.MulticastMessage{Tokens: tokens[start:end]}
		mm.Notification, mm.Webpush = notification(p)

		br, err := send(ctx, mm)
		if err != nil {
			d.FailureCount += end - start
			return d, push.GatewayError("multicast", err)
		}
		d.SuccessCount += br.SuccessCount
		d.FailureCount += br.FailureCount
		for _, r := range br.Responses {
			if r == nil {
				continue
			}
			if r.Success && d.MessageID == "" {
				d.MessageID = r.MessageID
			}
			if !r.Success && r.Error != nil && firstErr == nil {
				firstErr = r.Error
			}
		}
	}

	if d.FailureCount > 0 {
		g.log.Warn("multicast had failures",
			logx.Int("success", d.SuccessCount),
			logx.Int("failure", d.FailureCount),
			logx.Err(firstErr),
		)
	}
	if d.SuccessCount == 0 && d.FailureCount > 0 {
		if firstErr == nil {
			firstErr = errors.New("no token accepted")
		}
		return d, push.GatewayError("multicast", firstErr)
	}
	return d, nil
}

func (g *fcmGateway) Subscribe(ctx context.Context, token, group string) error {
	if token == "" {
		return push.InvalidInput("token is required")
	}
	if err := push.ValidGroup(group); err != nil {
		return err
	}
	resp, err := g.client.SubscribeToTopic(ctx, []string{token}, group)
	if err != nil {
		return push.GatewayError("subscribe", err)
	}
	if resp != nil && resp.FailureCount > 0 {
		reason := "unknown"
		if len(resp.Errors) > 0 && resp.Errors[0] != nil {
			reason = resp.Errors[0].Reason
		}
		return push.GatewayError("subscribe", errors.New(reason))
	}
	return nil
}
