package main

import (
	"context"

	"tutorstream/internal/adapter/api"
	"tutorstream/internal/adapter/wsclient"
	"tutorstream/internal/domain"
	"tutorstream/internal/infra/logger"
	"tutorstream/internal/usecase/chat"
	"tutorstream/internal/usecase/connection"
	"tutorstream/internal/usecase/rooms"
)

// clientStack is the wired stream client.
type clientStack struct {
	Manager *connection.Manager
	Rooms   *rooms.Tracker
	Surface *chat.Surface
	Query   *api.Client

	creds domain.Credentials
}

func initClient(rt *runtime) *clientStack {
	cfg := rt.cfg
	dialer := wsclient.Dialer{
		URL:          cfg.Server.WSURL,
		WriteTimeout: cfg.Connection.WriteTimeout,
	}
	mgr := connection.New(dialer,
		connection.WithLogger(logger.Component(rt.log, "connection")),
		connection.WithObserver(rt.obs),
		connection.WithHeartbeatInterval(cfg.Connection.HeartbeatInterval),
		connection.WithBackoff(connection.Backoff{
			Base: cfg.Connection.BackoffBase,
			Max:  cfg.Connection.BackoffMax,
		}),
		connection.WithMaxAttempts(cfg.Connection.MaxAttempts),
		connection.WithDialTimeout(cfg.Connection.DialTimeout),
	)
	tracker := rooms.New(mgr,
		rooms.WithLogger(logger.Component(rt.log, "rooms")),
		rooms.WithObserver(rt.obs),
	)
	query := api.NewClient(cfg.Server.APIURL, cfg.Auth.Token, cfg.Query,
		api.WithLogger(logger.Component(rt.log, "api")),
	)
	surface := chat.New(chat.Deps{
		Events:          mgr,
		Rooms:           tracker,
		Query:           query,
		Logger:          logger.Component(rt.log, "chat"),
		Observer:        rt.obs,
		CompletionGrace: cfg.Query.CompletionGrace,
	})
	return &clientStack{
		Manager: mgr,
		Rooms:   tracker,
		Surface: surface,
		Query:   query,
		creds:   domain.Credentials{UserID: cfg.Auth.UserID, Token: cfg.Auth.Token},
	}
}

// Connect dials with the configured credentials.
func (c *clientStack) Connect(ctx context.Context) (domain.ConnectionStatus, error) {
	return c.Manager.Connect(ctx, c.creds)
}

// Close tears the client down in reverse wiring order.
func (c *clientStack) Close() {
	c.Surface.Close(context.Background())
	c.Rooms.Close()
	c.Manager.Close()
}
