package template

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
)

func TestRemoteStore_WebTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, WebTemplateMediaType, r.Header.Get("Accept"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		if r.URL.Path != "/definition/template/adl1.4/Test" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", WebTemplateMediaType)
		_, _ = w.Write([]byte(testTemplate))
	}))
	defer srv.Close()

	store := NewRemoteStore(srv.URL+"/", WithHeader("Authorization", "Bearer token"), WithRetryMax(0))

	data, err := store.WebTemplate(context.Background(), "Test")
	require.NoError(t, err)
	wt, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "Test", wt.TemplateID)

	_, err = store.WebTemplate(context.Background(), "Unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, openfhir.ErrNoTemplate))
}

func TestRemoteStore_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(testTemplate))
	}))
	defer srv.Close()

	store := NewRemoteStore(srv.URL, WithRetryMax(2))
	_, err := store.WebTemplate(context.Background(), "Test")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRemoteStore_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testTemplate))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRemoteStore(srv.URL).WebTemplate(ctx, "Test")
	assert.Error(t, err)
}
