package stateset

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	endTime := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if endTime.Before(time.Now()) {
			t.Fatal("Timeout.")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncServerClient(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := NewSnapshotStateSet[string]()
	state.Add("a")

	server := NewSyncServerWithDefaults(cancelCtx, state, nil)
	defer server.Close()

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	client := NewSyncClientWithDefaults(cancelCtx, url, "")
	defer client.Close()

	// initial full content
	waitFor(t, 5*time.Second, func() bool {
		return client.State().ToSet().Equal(NewSet("a"))
	})

	// per-commit updates
	state.Add("b")
	state.Remove("a")
	waitFor(t, 5*time.Second, func() bool {
		return client.State().ToSet().Equal(NewSet("b"))
	})

	state.Clear()
	waitFor(t, 5*time.Second, func() bool {
		return client.State().IsEmpty()
	})
}

func TestSyncServerClientAuth(t *testing.T) {
	secret := []byte("test secret")

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := NewSnapshotStateSet[string]()
	state.AddAll([]string{"a", "b"})

	server := NewSyncServerWithDefaults(cancelCtx, state, secret)
	defer server.Close()

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")

	byJwt, err := MintSubscriberJwt(secret, NewId())
	assert.Equal(t, nil, err)

	client := NewSyncClientWithDefaults(cancelCtx, url, byJwt)
	defer client.Close()

	waitFor(t, 5*time.Second, func() bool {
		return client.State().ToSet().Equal(NewSet("a", "b"))
	})
}

func TestSubscriberJwt(t *testing.T) {
	secret := []byte("test secret")

	byJwt, err := MintSubscriberJwt(secret, NewId())
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, verifySubscriberJwt(byJwt, secret))

	// wrong secret
	assert.NotEqual(t, nil, verifySubscriberJwt(byJwt, []byte("other secret")))
	// not a token
	assert.NotEqual(t, nil, verifySubscriberJwt("not a jwt", secret))
}
