package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTTL = 7 * 24 * time.Hour

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func saveRequest(t *testing.T, s *SQLiteStore, endpointID string, body *string) *Request {
	t.Helper()
	req := &Request{
		EndpointID: endpointID,
		Method:     "POST",
		Path:       "/" + endpointID,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Query:      map[string]string{},
		Body:       body,
		IP:         strPtr("10.0.0.1"),
	}
	require.NoError(t, s.SaveRequest(context.Background(), req))
	return req
}

func TestEnsureEndpointIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"

	ep1, created, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, ep1.Protected())

	ep2, created, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ep1.CreatedAt, ep2.CreatedAt)
}

func TestEnsureEndpointRecreatesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"

	hash := "$2a$10$fakehashfakehashfakehash"
	first, err := s.CreateEndpoint(ctx, id, hash, testTTL)
	require.NoError(t, err)
	require.True(t, first.Protected())
	saveRequest(t, s, id, nil)

	// Advance past the expiry; the row has not been swept.
	s.now = func() time.Time { return first.ExpiresAt.Add(time.Minute) }

	ep, created, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)
	assert.True(t, created, "an expired ID should start over as a new endpoint")
	assert.False(t, ep.Protected(), "recreated endpoint must be unprotected")

	reqs, err := s.ListRequests(ctx, id, 100)
	require.NoError(t, err)
	assert.Empty(t, reqs, "old requests must not survive recreation")
}

func TestGetEndpointNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEndpoint(context.Background(), "ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"

	ep, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	require.NoError(t, s.RefreshExpiration(ctx, id, testTTL))

	refreshed, err := s.GetEndpoint(ctx, id)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(ep.ExpiresAt))

	assert.ErrorIs(t, s.RefreshExpiration(ctx, "ffffffffffffffffffffffffffffffff", testTTL), ErrNotFound)
}

func TestSaveRequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)

	req := &Request{
		EndpointID: id,
		Method:     "PUT",
		Path:       "/" + id + "/sub?a=1",
		Headers:    map[string]string{"X-Test": "yes"},
		Query:      map[string]string{"a": "1"},
		Body:       strPtr(`{"hello":"world"}`),
		Truncated:  true,
		IP:         strPtr("192.0.2.1"),
	}
	require.NoError(t, s.SaveRequest(ctx, req))
	require.NotZero(t, req.ID)

	got, err := s.GetRequest(ctx, id, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "PUT", got.Method)
	assert.Equal(t, req.Path, got.Path)
	assert.Equal(t, map[string]string{"X-Test": "yes"}, got.Headers)
	assert.Equal(t, map[string]string{"a": "1"}, got.Query)
	require.NotNil(t, got.Body)
	assert.Equal(t, `{"hello":"world"}`, *got.Body)
	assert.True(t, got.Truncated)
	require.NotNil(t, got.IP)
	assert.Equal(t, "192.0.2.1", *got.IP)
}

func TestSaveRequestNullBody(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)

	req := saveRequest(t, s, id, nil)
	got, err := s.GetRequest(ctx, id, req.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Body)
	assert.False(t, got.Truncated)
}

func TestRequestIDsStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)

	var last int64
	for i := 0; i < 10; i++ {
		req := saveRequest(t, s, id, nil)
		assert.Greater(t, req.ID, last)
		last = req.ID
	}
}

func TestPruneOldRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)

	for i := 0; i < 105; i++ {
		saveRequest(t, s, id, nil)
		require.NoError(t, s.PruneOldRequests(ctx, id, 100))
	}

	reqs, err := s.ListRequests(ctx, id, 200)
	require.NoError(t, err)
	require.Len(t, reqs, 100)

	// Newest first, and the oldest five rows are the ones gone.
	assert.Equal(t, reqs[0].ID, reqs[len(reqs)-1].ID+99)
	for i := 1; i < len(reqs); i++ {
		assert.Greater(t, reqs[i-1].ID, reqs[i].ID)
	}
}

func TestDeleteEndpointCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)
	req := saveRequest(t, s, id, strPtr("data"))

	require.NoError(t, s.DeleteEndpoint(ctx, id))

	_, err = s.GetEndpoint(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetRequest(ctx, id, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteEndpoint(ctx, id), ErrNotFound)
}

func TestClearRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef"
	_, _, err := s.EnsureEndpoint(ctx, id, testTTL)
	require.NoError(t, err)
	saveRequest(t, s, id, nil)
	saveRequest(t, s, id, nil)

	require.NoError(t, s.ClearRequests(ctx, id))
	reqs, err := s.ListRequests(ctx, id, 100)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestCleanupRemovesExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	live, _, err := s.EnsureEndpoint(ctx, "0123456789abcdef0123456789abcdef", testTTL)
	require.NoError(t, err)
	expired, err := s.CreateEndpoint(ctx, "ffffffffffffffffffffffffffffffff", "", time.Minute)
	require.NoError(t, err)
	saveRequest(t, s, expired.ID, nil)

	s.now = func() time.Time { return expired.ExpiresAt.Add(time.Second) }
	require.NoError(t, s.Cleanup(ctx))

	_, err = s.GetEndpoint(ctx, expired.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEndpoint(ctx, live.ID)
	assert.NoError(t, err)

	reqs, err := s.ListRequests(ctx, expired.ID, 100)
	require.NoError(t, err)
	assert.Empty(t, reqs, "expired endpoint's requests must be swept too")
}

func TestMaybeCleanupThrottled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }

	ep, err := s.CreateEndpoint(ctx, "0123456789abcdef0123456789abcdef", "", -time.Minute)
	require.NoError(t, err)

	// First call sweeps.
	require.NoError(t, s.MaybeCleanup(ctx))
	_, err = s.GetEndpoint(ctx, ep.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// Within the throttle window nothing is swept.
	ep2, err := s.CreateEndpoint(ctx, "ffffffffffffffffffffffffffffffff", "", -time.Minute)
	require.NoError(t, err)
	base = base.Add(30 * time.Second)
	require.NoError(t, s.MaybeCleanup(ctx))
	_, err = s.GetEndpoint(ctx, ep2.ID)
	assert.NoError(t, err, "sweep must not run twice inside one interval")

	// Past the interval the sweep runs again.
	base = base.Add(sweepInterval)
	require.NoError(t, s.MaybeCleanup(ctx))
	_, err = s.GetEndpoint(ctx, ep2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
