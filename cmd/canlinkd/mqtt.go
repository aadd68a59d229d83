package main

import (
	"context"
	"log/slog"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/hub"
	"github.com/canlink-io/canlink/internal/mqtt"
)

// startMQTT wires the optional broker uplink. A bad broker URL is a
// config error; a broker that is merely unreachable at boot downgrades
// to a warning and the bridge keeps serving TCP clients.
func startMQTT(ctx context.Context, cfg *appConfig, h *hub.Hub, send func(can.Frame) error, l *slog.Logger) (func(), error) {
	if cfg.mqttBroker == "" {
		return func() {}, nil
	}
	up, err := mqtt.New(cfg.mqttBroker, mqtt.WithLogger(l), mqtt.WithBuffer(cfg.hubBuffer))
	if err != nil {
		return func() {}, err
	}
	if err := up.Start(ctx, h, send); err != nil {
		l.Warn("mqtt_uplink_unavailable", "broker", cfg.mqttBroker, "error", err)
		return func() {}, nil
	}
	l.Info("mqtt_uplink_started", "broker", cfg.mqttBroker)
	return up.Close, nil
}
