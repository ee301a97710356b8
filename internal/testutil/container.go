// Package testutil holds helpers shared by the integration suites.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// postgresImageEnv overrides the image, e.g. to match a production major version.
const postgresImageEnv = "PAYADMIN_TEST_POSTGRES_IMAGE"

const defaultPostgresImage = "postgres:16-alpine"

// PaymentsDB is a throwaway PostgreSQL server holding an empty payments
// database. The schema is left to the code under test.
type PaymentsDB struct {
	container *tcpostgres.PostgresContainer
	URL       string
}

// StartPaymentsDB starts the container and waits until it accepts connections.
func StartPaymentsDB(ctx context.Context) (*PaymentsDB, error) {
	image := os.Getenv(postgresImageEnv)
	if image == "" {
		image = defaultPostgresImage
	}

	// The server logs "ready" once for the init pass and once for the real start.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(45 * time.Second)

	container, err := tcpostgres.Run(ctx, image,
		tcpostgres.WithDatabase("payments"),
		tcpostgres.WithUsername("payadmin"),
		tcpostgres.WithPassword("payadmin"),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("payments db url: %w", err)
	}

	return &PaymentsDB{container: container, URL: url}, nil
}

// Stop removes the container and its data.
func (db *PaymentsDB) Stop(ctx context.Context) error {
	return db.container.Terminate(ctx)
}
