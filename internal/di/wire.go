//go:build wireinject
// +build wireinject

package di

import (
	"PricePulse/pkg/config"
	"PricePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresClient,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvidePriceStore,
		ProvideCatalog,
		ProvideForecastStore,
		ProvideListingPublisher,

		// Pipeline
		ProvideNormalizer,
		ProvideResolver,
		ProvideSink,
		ProvideAdapters,
		ProvideOrchestrator,
		ProvideObservationsHandler,

		// Prediction
		ProvideTrainer,
		ProvideRetrainQueue,
		ProvideScheduler,

		// Query side
		ProvideEngine,
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
