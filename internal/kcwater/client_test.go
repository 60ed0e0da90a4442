package kcwater

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/watermetrics/kcwater-usage-worker/internal/config"
	"go.uber.org/zap"
)

type apiCalls struct {
	token int
	info  int
	usage int
	days  []string
}

// newAPIServer fakes the token, customer-info and hourly-usage endpoints.
// usageHistory maps a query day ("15-Jan-2024") to the raw history JSON
// served for that day.
func newAPIServer(t *testing.T, calls *apiCalls, usageHistory map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		calls.token++
		if r.Header.Get("Authorization") != basicAuthHeader {
			t.Errorf("Unexpected token auth header: %s", r.Header.Get("Authorization"))
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse token form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "password" {
			t.Errorf("Expected grant_type 'password', got '%s'", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"customerId":"cust-1"},"access_token":"tok-1","expires_in":3600}`))
	})
	mux.HandleFunc("/customer", func(w http.ResponseWriter, r *http.Request) {
		calls.info++
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Unexpected customer-info auth header: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accountContext":{"accountNumber":"12345"},"accountSummaryType":{"services":[{"serviceId":"svc-9"}]}}`))
	})
	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		calls.usage++
		var req usageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode usage request: %v", err)
		}
		calls.days = append(calls.days, req.Day)
		if req.AccountContext.AccountNumber != "12345" || req.AccountContext.ServiceID != "svc-9" {
			t.Errorf("Unexpected account context in usage request: %+v", req.AccountContext)
		}
		if req.Port != "1" {
			t.Errorf("Expected port '1', got '%s'", req.Port)
		}
		history, ok := usageHistory[req.Day]
		if !ok {
			history = "[]"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"history":` + history + `}`))
	})

	return httptest.NewServer(mux)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	client, err := NewClient(config.KCWaterConfig{
		Username:        "user",
		Password:        "pass",
		TokenURL:        serverURL + "/oauth/token",
		CustomerInfoURL: serverURL + "/customer",
		HourlyUsageURL:  serverURL + "/usage",
		Timezone:        "America/Chicago",
		RequestTimeout:  5 * time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestAccountNumber_CachesSession(t *testing.T) {
	calls := &apiCalls{}
	server := newAPIServer(t, calls, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	base := time.Now()
	client.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		account, err := client.AccountNumber(context.Background())
		if err != nil {
			t.Fatalf("AccountNumber failed: %v", err)
		}
		if account != "12345" {
			t.Errorf("Expected account '12345', got '%s'", account)
		}
	}

	if calls.token != 1 || calls.info != 1 {
		t.Errorf("Expected exactly one login round-trip pair, got token=%d info=%d", calls.token, calls.info)
	}

	// Past the token expiry a renewal round-trip pair happens
	client.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := client.AccountNumber(context.Background()); err != nil {
		t.Fatalf("AccountNumber after expiry failed: %v", err)
	}

	if calls.token != 2 || calls.info != 2 {
		t.Errorf("Expected a second login round-trip pair after expiry, got token=%d info=%d", calls.token, calls.info)
	}
}

func TestAccountNumber_TokenEndpointBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.AccountNumber(context.Background())
	if err == nil {
		t.Fatal("Expected error for 400 from token endpoint")
	}
	if !IsAuthentication(err) {
		t.Errorf("Expected authentication error, got: %v", err)
	}
	if IsCommunication(err) {
		t.Errorf("400 from token endpoint must not classify as communication error: %v", err)
	}
}

func TestFetchReadings_UnauthorizedUsageEndpoint(t *testing.T) {
	calls := &apiCalls{}
	server := newAPIServer(t, calls, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	// Swap in a usage endpoint that rejects the bearer token
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()
	client.hourlyUsageURL = rejecting.URL

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, client.Location())
	_, err := client.FetchReadings(context.Background(), start, start.AddDate(0, 0, 1))
	if err == nil {
		t.Fatal("Expected error for 401 from usage endpoint")
	}
	if !IsAuthentication(err) {
		t.Errorf("Expected authentication error, got: %v", err)
	}
}

func TestFetchReadings_ServerErrorIsCommunication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.AccountNumber(context.Background())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !IsCommunication(err) {
		t.Errorf("Expected communication error, got: %v", err)
	}
}

func TestDoRequest_TimeoutIsCommunicationWithCause(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	client.timeout = 20 * time.Millisecond

	_, err := client.AccountNumber(context.Background())
	if err == nil {
		t.Fatal("Expected error for timed out request")
	}
	if !IsCommunication(err) {
		t.Errorf("Expected communication error, got: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the timeout cause to be attached, got: %v", err)
	}
}

func TestFetchReadings_ParsesAndShiftsReadings(t *testing.T) {
	calls := &apiCalls{}
	server := newAPIServer(t, calls, map[string]string{
		"15-Jan-2024": `[{"readDate":"01-15-2024","readDateTime":"3 PM","uom":"CF","meterNumber":"M-77","rawConsumption":"1.25","port":"1"}]`,
		"16-Jan-2024": `[{"readDate":"01-16-2024","readDateTime":"1 AM","uom":"CF","meterNumber":"M-77","rawConsumption":2.5,"port":"1"}]`,
	})
	defer server.Close()

	client := newTestClient(t, server.URL)

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, client.Location())
	readings, err := client.FetchReadings(context.Background(), start, start.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("FetchReadings failed: %v", err)
	}

	if calls.usage != 2 {
		t.Errorf("Expected one request per day for 2 days, got %d", calls.usage)
	}
	if len(calls.days) != 2 || calls.days[0] != "15-Jan-2024" || calls.days[1] != "16-Jan-2024" {
		t.Errorf("Unexpected query days: %v", calls.days)
	}

	if len(readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(readings))
	}

	// "3 PM" shifts back to 2 PM local time
	expectedFirst := time.Date(2024, 1, 15, 14, 0, 0, 0, client.Location())
	if !readings[0].ReadTime.Equal(expectedFirst) {
		t.Errorf("Expected first read time %v, got %v", expectedFirst, readings[0].ReadTime)
	}
	if readings[0].RawConsumption != 1.25 {
		t.Errorf("Expected consumption 1.25, got %f", readings[0].RawConsumption)
	}
	if readings[0].UOM != "CF" || readings[0].MeterNumber != "M-77" {
		t.Errorf("Unexpected reading metadata: %+v", readings[0])
	}

	// A numeric rawConsumption parses the same as a quoted one
	if readings[1].RawConsumption != 2.5 {
		t.Errorf("Expected consumption 2.5, got %f", readings[1].RawConsumption)
	}
}

func TestFetchReadings_WindowAcrossSpringForward(t *testing.T) {
	calls := &apiCalls{}
	server := newAPIServer(t, calls, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)

	// The window spans 2024-03-10, the spring-forward transition in
	// America/Chicago; the 23-hour day must still be fetched.
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, client.Location())
	end := time.Date(2024, 3, 11, 12, 0, 0, 0, client.Location())

	if _, err := client.FetchReadings(context.Background(), start, end); err != nil {
		t.Fatalf("FetchReadings failed: %v", err)
	}

	if calls.usage != 2 {
		t.Fatalf("Expected 2 usage requests across the DST transition, got %d", calls.usage)
	}
	if len(calls.days) != 2 || calls.days[0] != "09-Mar-2024" || calls.days[1] != "10-Mar-2024" {
		t.Errorf("Unexpected query days across the DST transition: %v", calls.days)
	}
}

func TestFetchReadings_EmptyRange(t *testing.T) {
	calls := &apiCalls{}
	server := newAPIServer(t, calls, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, client.Location())
	readings, err := client.FetchReadings(context.Background(), start, start)
	if err != nil {
		t.Fatalf("FetchReadings failed: %v", err)
	}
	if len(readings) != 0 {
		t.Errorf("Expected no readings for an empty range, got %d", len(readings))
	}
	if calls.usage != 0 {
		t.Errorf("Expected no usage requests for an empty range, got %d", calls.usage)
	}
}
