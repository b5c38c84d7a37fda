package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"ema-price-alerts/internal/command"
)

// Serve runs the slash-command server until interrupted.
func (a *App) Serve(ctx context.Context) error {
	srv := a.Config.Server
	if srv.SigningSecret == "" {
		return errors.New("server.signing_secret is required")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handler := command.NewHandler(command.Options{
		Path:          srv.Path,
		SigningSecret: srv.SigningSecret,
		ReplayWindow:  srv.ReplayWindow,
		MaxDays:       srv.MaxDays,
		DefaultDays:   srv.DefaultDays,
	}, command.NewSpotReporter(a.newCoinbase()), a.Logger)

	return command.NewServer(srv.Listen, handler, a.Logger).Run(ctx)
}
