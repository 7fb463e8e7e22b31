package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/auth"
	"github.com/cradlelabs/cradle/backend/internal/children"
	"github.com/cradlelabs/cradle/backend/internal/events"
	"github.com/cradlelabs/cradle/backend/internal/ledger"
	"github.com/cradlelabs/cradle/backend/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnvironment struct {
	handler    http.Handler
	tokens     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher
	children   *children.Service
	clockValue time.Time
}

func (env *testEnvironment) issueToken(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := env.tokens.IssueToken(context.Background(), subject)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// newTestEnvironment wires a handler against an in-memory database. The
// remote event store argument lets failure tests substitute a broken remote.
func newTestEnvironment(t *testing.T, remote ledger.EventStore) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database pool: %v", err)
	}
	// A second pooled connection would see its own empty in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&events.Record{}, &children.Child{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	if remote == nil {
		store, err := events.NewStore(events.StoreConfig{
			Database:   db,
			Clock:      clock,
			IDProvider: events.NewUUIDProvider(),
		})
		if err != nil {
			t.Fatalf("failed to construct event store: %v", err)
		}
		remote = store
	}

	registry, err := ledger.NewRegistry(ledger.RegistryConfig{Remote: remote})
	if err != nil {
		t.Fatalf("failed to construct registry: %v", err)
	}

	childService, err := children.NewService(children.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct children service: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "cradle-auth",
		Audience:      "cradle-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	dispatcher := realtime.NewDispatcher()

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokenIssuer,
		Registry:     registry,
		Dispatcher:   dispatcher,
		Children:     childService,
		Clock:        clock,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testEnvironment{
		handler:    handler,
		tokens:     tokenIssuer,
		dispatcher: dispatcher,
		children:   childService,
		clockValue: now,
	}
}
