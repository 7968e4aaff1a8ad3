package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_FetchRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rates", r.URL.Path)
		require.Equal(t, "USD/ILS,bitcoin", r.URL.Query().Get("subjects"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"subject": "USD/ILS", "rate": 3.72, "timestamp": 1700000000000},
			{"subject": "bitcoin", "rate": 97123.5},
			{"rate": 1.0}, // nameless entries are dropped
		})
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(srv.URL, 5*time.Second, logger)

	snapshots, err := client.FetchRates(context.Background(), []string{"USD/ILS", "bitcoin"})
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	require.Equal(t, "USD/ILS", snapshots[0].Subject)
	require.Equal(t, 3.72, snapshots[0].Rate)
	require.True(t, time.UnixMilli(1700000000000).Equal(snapshots[0].Timestamp))

	require.Equal(t, "bitcoin", snapshots[1].Subject)
	require.False(t, snapshots[1].Timestamp.IsZero())
}

func TestClient_FetchRatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(srv.URL, 5*time.Second, logger)

	_, err := client.FetchRates(context.Background(), []string{"USD/ILS"})
	require.Error(t, err)
}

func TestClient_FetchRatesUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(url, time.Second, logger)

	_, err := client.FetchRates(context.Background(), []string{"USD/ILS"})
	require.Error(t, err)
}
