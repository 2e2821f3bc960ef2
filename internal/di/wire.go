//go:build wireinject
// +build wireinject

package di

import (
	"CoinPull/pkg/config"
	"CoinPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure
		ProvideStorage,
		ProvideCache,
		ProvideCachedReader,
		ProvideReportPublisher,
		ProvideSeriesFetcher,

		// Use cases
		ProvideIngestUseCase,
		ProvidePricesUseCase,
		ProvideScheduler,

		// Transport
		ProvideHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
