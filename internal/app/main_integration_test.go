//go:build integration

package app_test

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bissquit/payments-admin/api/openapi"
	"github.com/bissquit/payments-admin/internal/app"
	"github.com/bissquit/payments-admin/internal/config"
	"github.com/bissquit/payments-admin/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool
	testApp       *app.App
)

// newTestClient creates a test client with OpenAPI validation bound to t.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.SetT(t)
	return client
}

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	paymentsDB, err := testutil.StartPaymentsDB(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := paymentsDB.Stop(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	uploads, err := os.MkdirTemp("", "payadmin-uploads-")
	if err != nil {
		log.Fatalf("create upload dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(uploads) }()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = paymentsDB.URL
	cfg.Database.MaxOpenConns = 5
	cfg.Database.ConnectAttempts = 3
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.JWT.SecretKey = "integration-secret"
	cfg.Storage.LocalDir = uploads
	cfg.RateLimit.LoginRPS = 0

	testApp, err = app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, paymentsDB.URL)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}
	defer testDB.Close()

	testServer = httptest.NewServer(testApp.Router())
	defer testServer.Close()

	testValidator, err = testutil.LoadOpenAPIValidator(openapi.Spec)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testApp.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	return code
}
