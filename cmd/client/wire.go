//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/livekit/signal-client/pkg/config"
)

func InitializeClient(conf *config.Config, token AccessToken, identity Identity) (*Client, error) {
	wire.Build(ClientSet)
	return &Client{}, nil
}
