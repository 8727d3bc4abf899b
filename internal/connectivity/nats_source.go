package connectivity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
)

// Signal is the connectivity payload published by the platform.
type Signal struct {
	Online *bool `json:"online"`
}

// Setter receives connectivity signals.
type Setter interface {
	SetOnline(online bool)
}

// NATSSource feeds connectivity signals from a NATS subject into a Setter.
type NATSSource struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	target  Setter
}

// NewNATSSource connects to url and subscribes to subject.
func NewNATSSource(url, subject string, target Setter) (*NATSSource, error) {
	nc, err := nats.Connect(url,
		nats.Name("silo-feedback-sync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, s *nats.Subscription, err error) {
			logger.Log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to NATS: %w", apperrors.ErrNATS, err)
	}

	src := &NATSSource{nc: nc, subject: subject, target: target}
	sub, err := nc.Subscribe(subject, src.handleMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: failed to subscribe to %s: %w", apperrors.ErrNATS, subject, err)
	}
	src.sub = sub

	logger.Log.Info("Listening for connectivity signals", zap.String("subject", subject))
	return src, nil
}

func (s *NATSSource) handleMessage(msg *nats.Msg) {
	var sig Signal
	if err := json.Unmarshal(msg.Data, &sig); err != nil || sig.Online == nil {
		logger.Log.Warn("Ignoring malformed connectivity signal",
			zap.String("subject", msg.Subject),
			zap.ByteString("data", msg.Data),
			zap.Error(err))
		return
	}
	s.target.SetOnline(*sig.Online)
}

// Close drains the subscription and closes the connection.
func (s *NATSSource) Close() {
	if s == nil || s.nc == nil {
		return
	}
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			logger.Log.Warn("Failed to unsubscribe connectivity source", zap.Error(err))
		}
	}
	if err := s.nc.Drain(); err != nil {
		logger.Log.Warn("Failed to drain NATS connection", zap.Error(err))
		s.nc.Close()
	}
}
