package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"course-progression-engine/internal/domain"
)

func TestCheckoutSessionConfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/sessions/cs_1", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","status":"complete","payment_status":"paid","customer_email":"a@example.com"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL + "/", Token: "secret"})
	status, err := client.CheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, status.Confirmed)
	require.Equal(t, "a@example.com", status.Email)
}

func TestCheckoutSessionUnpaid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"cs_1","status":"open","payment_status":"unpaid"}`))
	}))
	defer srv.Close()

	status, err := NewClient(ClientConfig{BaseURL: srv.URL}).CheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	require.False(t, status.Confirmed)
}

func TestCheckoutSessionErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		pending bool
	}{
		{"not yet visible", http.StatusNotFound, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"outage", http.StatusBadGateway, true},
		{"rejected", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := NewClient(ClientConfig{BaseURL: srv.URL}).CheckoutSession(context.Background(), "cs_1")
			require.Error(t, err)
			require.Equal(t, tc.pending, errors.Is(err, domain.ErrDependencyPending))
		})
	}
}

func TestCheckoutSessionNetworkFailureIsPending(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(ClientConfig{BaseURL: url}).CheckoutSession(context.Background(), "cs_1")
	require.True(t, errors.Is(err, domain.ErrDependencyPending))
}

func TestStaticGateway(t *testing.T) {
	g := NewStaticGateway()
	status, err := g.CheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	require.False(t, status.Confirmed)

	g.Confirm("cs_1", "a@example.com")
	status, err = g.CheckoutSession(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, status.Confirmed)
}
