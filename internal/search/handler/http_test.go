package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ridematch/internal/search/cache"
	"github.com/example/ridematch/internal/search/handler"
	"github.com/example/ridematch/internal/search/source"
)

type body struct {
	Query   string   `json:"query"`
	Results []string `json:"results"`
}

func newServer(t *testing.T, producer cache.Producer) *httptest.Server {
	t.Helper()
	c := cache.New(cache.Config{}, producer, nil, nil, nil)
	srv := httptest.NewServer(handler.NewHTTP(c).Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSearchServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(_ context.Context, key string) ([]string, error) {
		calls.Add(1)
		return []string{key + " - result A"}, nil
	})

	for i := 0; i < 3; i++ {
		resp := do(t, http.MethodGet, srv.URL+"/v1/search?q=golang")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got body
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Equal(t, "golang", got.Query)
		require.Equal(t, []string{"golang - result A"}, got.Results)
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := newServer(t, func(context.Context, string) ([]string, error) { return nil, nil })
	require.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, srv.URL+"/v1/search").StatusCode)
}

func TestSearchProducerFailureIsBadGateway(t *testing.T) {
	srv := newServer(t, func(context.Context, string) ([]string, error) {
		return nil, errors.New("backend down")
	})
	require.Equal(t, http.StatusBadGateway, do(t, http.MethodGet, srv.URL+"/v1/search?q=x").StatusCode)
}

func TestPeekAndInvalidate(t *testing.T) {
	srv := newServer(t, func(_ context.Context, key string) ([]string, error) {
		return []string{key}, nil
	})

	require.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/v1/search/k").StatusCode)
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/search?q=k").StatusCode)

	resp := do(t, http.MethodGet, srv.URL+"/v1/search/k")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got body
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, []string{"k"}, got.Results)

	require.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, srv.URL+"/v1/search/k").StatusCode)
	require.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, srv.URL+"/v1/search/k").StatusCode)
}

func TestSeedReplacesResultsAndDropsCachedCopy(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	src := source.NewRedis(client, "")
	c := cache.New(cache.Config{}, src.Fetch, nil, nil, nil)
	srv := httptest.NewServer(handler.NewHTTP(c).WithSeeder(src).Router())
	defer srv.Close()

	search := func() []string {
		resp := do(t, http.MethodGet, srv.URL+"/v1/search?q=golang")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got body
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		return got.Results
	}
	seed := func(payload string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/search/golang", strings.NewReader(payload))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	require.Empty(t, search())
	require.Equal(t, http.StatusNoContent, seed(`{"results":["go.dev","gobyexample.com"]}`))
	require.Equal(t, []string{"go.dev", "gobyexample.com"}, search())
	require.Equal(t, http.StatusBadRequest, seed(`{"results":`))
}

func TestSeedDisabledWithoutSeeder(t *testing.T) {
	srv := newServer(t, func(context.Context, string) ([]string, error) { return nil, nil })
	require.Equal(t, http.StatusNotImplemented, do(t, http.MethodPut, srv.URL+"/v1/search/k").StatusCode)
}
