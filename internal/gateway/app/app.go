package app

import (
	"context"
	"errors"
	"net"

	"auditflow/internal/gateway/server"

	"go.uber.org/zap"
)

// App is one running service: its HTTP server plus the resources that
// must be released after it stops.
type App struct {
	name    string
	server  *server.Server
	closers []func()
	log     *zap.Logger
}

func (a *App) Name() string { return a.name }

func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Start() error {
	return a.server.Start()
}

// Serve runs the app on an existing listener.
func (a *App) Serve(l net.Listener) error {
	return a.server.Serve(l)
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// resources in reverse order of acquisition.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("shutdown incomplete", zap.String("service", a.name), zap.Error(err))
	}
	return err
}

// closeAll releases whatever was acquired before a constructor failed.
func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
