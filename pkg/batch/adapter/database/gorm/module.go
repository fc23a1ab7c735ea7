package gorm

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the connection Provider and closes its connections on shutdown.
// Dialects are registered by importing the mysql, postgres or sqlite subpackages.
var Module = fx.Options(
	fx.Provide(NewProvider),
	fx.Invoke(func(lc fx.Lifecycle, p *Provider) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.CloseAll()
			},
		})
	}),
)
