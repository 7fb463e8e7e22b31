package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cradlelabs/cradle/backend/internal/auth"
	"github.com/cradlelabs/cradle/backend/internal/children"
	"github.com/cradlelabs/cradle/backend/internal/events"
	"github.com/cradlelabs/cradle/backend/internal/ledger"
	"github.com/cradlelabs/cradle/backend/internal/realtime"
	"github.com/cradlelabs/cradle/backend/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	ownerSubject    = "owner-abc"
	jsonContentType = "application/json"
)

// TestCareFlow walks the full caregiver loop end to end: register a child,
// log care events, list them back, and ask for the next sleep window.
func TestCareFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&events.Record{}, &children.Child{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	now := time.Date(2026, time.August, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	eventStore, err := events.NewStore(events.StoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: events.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build event store: %v", err)
	}

	registry, err := ledger.NewRegistry(ledger.RegistryConfig{Remote: eventStore})
	if err != nil {
		testContext.Fatalf("failed to build registry: %v", err)
	}

	childService, err := children.NewService(children.ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		testContext.Fatalf("failed to build children service: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "cradle-auth",
		Audience:      "cradle-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenIssuer,
		Registry:     registry,
		Dispatcher:   realtime.NewDispatcher(),
		Children:     childService,
		Clock:        clock,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	apiServer := httptest.NewServer(handler)
	testContext.Cleanup(apiServer.Close)

	token, _, err := tokenIssuer.IssueToken(context.Background(), ownerSubject)
	if err != nil {
		testContext.Fatalf("failed to issue token: %v", err)
	}

	// Register a three-month-old child.
	birthDate := now.AddDate(0, -3, 0)
	childPayload := fmt.Sprintf(`{"name":"Noa","birth_date_s":%d}`, birthDate.Unix())
	doRequest(testContext, apiServer, http.MethodPut, "/children", token, childPayload, http.StatusOK)

	// Log a feed, then a sleep that ended 20 minutes ago.
	feedPayload := `{"correlation_id":"corr-feed-1","event_type":"FEED","timestamp_s":1754824800,"metadata":{"volume_ml":110,"side":"LEFT"}}`
	doRequest(testContext, apiServer, http.MethodPost, "/events", token, feedPayload, http.StatusCreated)

	sleepEnd := now.Add(-20 * time.Minute)
	sleepPayload := fmt.Sprintf(`{"correlation_id":"corr-sleep-1","event_type":"SLEEP","timestamp_s":%d,"metadata":{"quality":5}}`, sleepEnd.Unix())
	doRequest(testContext, apiServer, http.MethodPost, "/events", token, sleepPayload, http.StatusCreated)

	// A retried append with the same correlation id must not duplicate.
	doRequest(testContext, apiServer, http.MethodPost, "/events", token, feedPayload, http.StatusCreated)

	listBody := doRequest(testContext, apiServer, http.MethodGet, "/events", token, "", http.StatusOK)
	var listed struct {
		Events []struct {
			CorrelationID string `json:"correlation_id"`
			EventType     string `json:"event_type"`
			Confirmed     bool   `json:"confirmed"`
		} `json:"events"`
	}
	if err := json.Unmarshal(listBody, &listed); err != nil {
		testContext.Fatalf("failed to decode list response: %v", err)
	}
	if len(listed.Events) != 2 {
		testContext.Fatalf("expected two events after idempotent retry, got %d", len(listed.Events))
	}
	for _, entry := range listed.Events {
		if !entry.Confirmed {
			testContext.Fatalf("expected confirmed entry, got %#v", entry)
		}
	}

	// Three-month-old awake for 20 of a 90 minute window.
	forecastBody := doRequest(testContext, apiServer, http.MethodGet, "/sleep/next", token, "", http.StatusOK)
	var forecast struct {
		PredictedAtSeconds int64 `json:"predicted_at_s"`
		RemainingMinutes   int   `json:"remaining_minutes"`
		PressurePercent    int   `json:"pressure_percent"`
		Overtired          bool  `json:"overtired"`
	}
	if err := json.Unmarshal(forecastBody, &forecast); err != nil {
		testContext.Fatalf("failed to decode forecast: %v", err)
	}
	if forecast.RemainingMinutes != 70 {
		testContext.Fatalf("expected 70 remaining minutes, got %d", forecast.RemainingMinutes)
	}
	if forecast.Overtired {
		testContext.Fatalf("overtired must not be set this early in the window")
	}
	if forecast.PredictedAtSeconds != sleepEnd.Add(90*time.Minute).Unix() {
		testContext.Fatalf("unexpected predicted sleep time %d", forecast.PredictedAtSeconds)
	}

	// Requests without a token stay out.
	request, err := http.NewRequest(http.MethodGet, apiServer.URL+"/events", http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without token, got %d", response.StatusCode)
	}
}

func doRequest(testContext *testing.T, apiServer *httptest.Server, method, path, token, payload string, wantStatus int) []byte {
	testContext.Helper()
	var body *bytes.Buffer
	if payload == "" {
		body = bytes.NewBuffer(nil)
	} else {
		body = bytes.NewBufferString(payload)
	}
	request, err := http.NewRequest(method, apiServer.URL+path, body)
	if err != nil {
		testContext.Fatalf("failed to build %s %s request: %v", method, path, err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	if payload != "" {
		request.Header.Set("Content-Type", jsonContentType)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		testContext.Fatalf("failed to read %s %s response: %v", method, path, err)
	}
	if response.StatusCode != wantStatus {
		testContext.Fatalf("%s %s returned %d, want %d: %s", method, path, response.StatusCode, wantStatus, buffer.String())
	}
	return buffer.Bytes()
}
