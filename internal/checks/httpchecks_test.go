package checks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/migrapass/checkgate/internal/gateway"
)

func TestFinesPerform_NoFines(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1234", r.URL.Query().Get("series"))
		require.Equal(t, "567890", r.URL.Query().Get("number"))
		w.Write([]byte(`{"count":0,"fines":[]}`))
	}))
	defer srv.Close()

	perform := finesPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	out, err := perform(context.Background(), gateway.Input{DocumentSeries: "1234", DocumentNumber: "567890"})

	require.NoError(t, err)
	require.Equal(t, gateway.StatusNotFound, out.Status)
	require.Zero(t, out.Payload.(FinesPayload).TotalAmount)
}

func TestFinesPerform_FinesFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"count":2,"fines":[
			{"date":"2025-01-10","article":"12.9 ч.2","amount":500},
			{"date":"2025-02-03","article":"12.12 ч.1","amount":1000}
		]}`))
	}))
	defer srv.Close()

	perform := finesPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	out, err := perform(context.Background(), gateway.Input{DocumentSeries: "1234", DocumentNumber: "567890"})

	require.NoError(t, err)
	require.Equal(t, gateway.StatusFound, out.Status)

	payload := out.Payload.(FinesPayload)
	require.Equal(t, 2, payload.Count)
	require.InDelta(t, 1500, payload.TotalAmount, 0.001)
	require.Len(t, payload.Fines, 2)
}

func TestFinesPerform_MalformedResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	perform := finesPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	_, err := perform(context.Background(), gateway.Input{DocumentNumber: "1"})

	var parseErr *gateway.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestFinesPerform_UpstreamDown(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	perform := finesPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	_, err := perform(context.Background(), gateway.Input{DocumentNumber: "1"})

	var transient *gateway.TransientFetchError
	require.ErrorAs(t, err, &transient)
}

func TestTaxIDPerform_Found(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "innMy", r.PostForm.Get("c"))
		require.Equal(t, "Иванов", r.PostForm.Get("fam"))
		require.Equal(t, "21", r.PostForm.Get("doctype"))
		require.Equal(t, "4510123456", r.PostForm.Get("docno"))
		w.Write([]byte(`{"code":1,"inn":"771234567890"}`))
	}))
	defer srv.Close()

	perform := taxIDPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	out, err := perform(context.Background(), gateway.Input{
		LastName:       "Иванов",
		FirstName:      "Иван",
		BirthDate:      "01.01.1990",
		DocumentSeries: "4510",
		DocumentNumber: "123456",
	})

	require.NoError(t, err)
	require.Equal(t, gateway.StatusFound, out.Status)
	require.Equal(t, "771234567890", out.Payload.(TaxIDPayload).TaxID)
}

func TestTaxIDPerform_NotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":0,"inn":""}`))
	}))
	defer srv.Close()

	perform := taxIDPerform(newHTTPFetcher("", 5*time.Second), srv.URL)
	out, err := perform(context.Background(), gateway.Input{LastName: "Иванов"})

	require.NoError(t, err)
	require.Equal(t, gateway.StatusNotFound, out.Status)
	require.Empty(t, out.Payload.(TaxIDPayload).TaxID)
}

func TestHTTPFetcher_ContextCancellation(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetcher := newHTTPFetcher("", 5*time.Second)
	_, err := fetcher.Get(ctx, srv.URL)

	var transient *gateway.TransientFetchError
	require.ErrorAs(t, err, &transient)
}
