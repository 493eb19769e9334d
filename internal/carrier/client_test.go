package carrier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestStreamParcelsPagination(t *testing.T) {
	var pagesServed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)

		cursor := r.URL.Query().Get("cursor")
		pagesServed.Add(1)
		switch cursor {
		case "":
			fmt.Fprintf(w, `{"parcels": [{"id": 1, "weight": "1.0"}, {"id": 2, "weight": "2.0"}], "next": "%s/parcels?cursor=p2"}`, "http://example.com")
		case "p2":
			fmt.Fprint(w, `{"parcels": [{"id": 3, "weight": "0.3"}], "next": null}`)
		default:
			t.Fatalf("unexpected cursor %q", cursor)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	creds := Credentials{APIKey: "key", Secret: "secret"}

	var got []string
	err := client.StreamParcels(context.Background(), creds, "", 10, func(page []Shipment) error {
		for _, s := range page {
			got = append(got, s.ExternalID)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, got)
	require.Equal(t, int32(2), pagesServed.Load())
}

func TestStreamParcelsRespectsMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always claims there is another page.
		fmt.Fprintf(w, `{"parcels": [{"id": 9, "weight": "1.0"}], "next": "http://x/parcels?cursor=again"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	pages := 0
	err := client.StreamParcels(context.Background(), Credentials{APIKey: "k", Secret: "s"}, "", 3, func([]Shipment) error {
		pages++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, pages)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"parcels": [], "next": null}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	_, _, err := client.ListParcels(context.Background(), Credentials{APIKey: "k", Secret: "s"}, ListOptions{})
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "bad credentials"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	_, _, err := client.ListParcels(context.Background(), Credentials{APIKey: "k", Secret: "s"}, ListOptions{})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetParcelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	_, err := client.GetParcel(context.Background(), Credentials{APIKey: "k", Secret: "s"}, "123")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelParcel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/parcels/77/cancel", r.URL.Path)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, testLogger())
	require.NoError(t, client.CancelParcel(context.Background(), Credentials{APIKey: "k", Secret: "s"}, "77"))
}
