package gating

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var account = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestUnlocked(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/get/"+account.Hex(), r.URL.Path)
		_, _ = w.Write([]byte(`{"status":true}`))
	})
	c := NewClient(Options{SessionURL: srv.URL + "/get/"}, nil)
	assert.True(t, c.Unlocked(context.Background(), account))
}

func TestUnlockedTreatsFailureAsLocked(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := NewClient(Options{SessionURL: srv.URL}, nil)
	assert.False(t, c.Unlocked(context.Background(), account))

	c = NewClient(Options{}, nil)
	assert.False(t, c.Unlocked(context.Background(), account))
}

func TestScore(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/"+account.Hex()+"/score"))
		_, _ = w.Write([]byte(`{"score":420,"signature":"0x0102"}`))
	})
	c := NewClient(Options{ScoreURL: srv.URL + "/user"}, nil)
	score, err := c.Score(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, int64(420), score.Value.Int64())
	assert.Equal(t, []byte{1, 2}, score.Signature)
}

func TestScoreMissing(t *testing.T) {
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":false}`))
	})
	c := NewClient(Options{ScoreURL: srv.URL}, nil)
	_, err := c.Score(context.Background(), account)
	assert.ErrorIs(t, err, ErrNoScore)
}

func TestMarkPurchased(t *testing.T) {
	hit := make(chan string, 1)
	srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		hit <- r.URL.Path
	})
	c := NewClient(Options{UpdateStatusURL: srv.URL + "/updatestatus", RatePerSecond: 100}, nil)
	require.NoError(t, c.MarkPurchased(context.Background(), account))
	assert.Equal(t, "/updatestatus/"+account.Hex(), <-hit)
}
