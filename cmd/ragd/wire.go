//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/opskb/ragd/internal/config"
)

func CreateApplication(cfg *config.Config) (*Application, error) {
	wire.Build(
		wire.Struct(new(Application), "*"),
	)
	return nil, nil
}
