package history

import (
	"context"
	"errors"
	"testing"
	"time"

	redisclient "github.com/CDeX-Labs/CDeX-Judge-Service/internal/redis"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryHash struct {
	hashes  map[string]map[string]string
	expires map[string]time.Duration
	err     error
}

func newMemoryHash() *memoryHash {
	return &memoryHash{hashes: map[string]map[string]string{}, expires: map[string]time.Duration{}}
}

func (m *memoryHash) HSet(ctx context.Context, key string, field string, value interface{}) error {
	if m.err != nil {
		return m.err
	}
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	m.hashes[key][field] = string(value.([]byte))
	return nil
}

func (m *memoryHash) HGet(ctx context.Context, key, field string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.hashes[key][field]
	if !ok {
		return "", redisclient.ErrNotFound
	}
	return v, nil
}

func (m *memoryHash) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]string{}
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryHash) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.expires[key] = expiration
	return nil
}

func TestStore_RecordAndPriors(t *testing.T) {
	redis := newMemoryHash()
	store := NewStore(redis, time.Hour, zerolog.Nop())
	ctx := context.Background()

	for _, sub := range []judging.Submission{
		{ID: "s2", EventID: "e1", Submitter: "alice", ProofHash: "h2"},
		{ID: "s1", EventID: "e1", Submitter: "bob", ProofHash: "h1"},
		{ID: "s3", EventID: "e2", Submitter: "alice"},
	} {
		require.NoError(t, store.Record(ctx, sub))
	}
	assert.Equal(t, time.Hour, redis.expires["history:event:e1"])

	all, err := store.EventSubmissions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].ID)
	assert.Equal(t, "h2", all[1].ProofHash)

	priors, err := store.Priors(ctx, judging.Submission{ID: "s2", EventID: "e1"})
	require.NoError(t, err)
	require.Len(t, priors, 1)
	assert.Equal(t, "s1", priors[0].ID)
}

func TestStore_RecordOverwritesSameSubmission(t *testing.T) {
	store := NewStore(newMemoryHash(), 0, zerolog.Nop())
	ctx := context.Background()

	sub := judging.Submission{ID: "s1", EventID: "e1", Status: judging.StatusPendingVerification}
	require.NoError(t, store.Record(ctx, sub))
	require.NoError(t, sub.ApplyVerdict(judging.Verdict{IsValid: true, Score: 70}))
	require.NoError(t, store.Record(ctx, sub))

	all, err := store.EventSubmissions(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, judging.StatusVerified, all[0].Status)
	assert.Equal(t, 70, all[0].Verification.Score)
}

func TestStore_SkipsCorruptEntries(t *testing.T) {
	redis := newMemoryHash()
	redis.hashes["history:event:e1"] = map[string]string{"bad": "{", "good": `{"id":"good","eventId":"e1"}`}
	store := NewStore(redis, 0, zerolog.Nop())

	all, err := store.EventSubmissions(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].ID)
}

func TestStore_BackendErrors(t *testing.T) {
	redis := newMemoryHash()
	redis.err = errors.New("timeout")
	store := NewStore(redis, 0, zerolog.Nop())

	assert.Error(t, store.Record(context.Background(), judging.Submission{ID: "s1", EventID: "e1"}))
	_, err := store.Priors(context.Background(), judging.Submission{ID: "s1", EventID: "e1"})
	assert.ErrorContains(t, err, "timeout")
}

func TestStore_Lookup(t *testing.T) {
	redis := newMemoryHash()
	store := NewStore(redis, time.Hour, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, judging.Submission{ID: "s1", EventID: "e1", Status: judging.StatusVerified}))

	got, err := store.Lookup(ctx, "e1", "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, judging.StatusVerified, got.Status)

	missing, err := store.Lookup(ctx, "e1", "s2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	redis.hashes["history:event:e1"]["bad"] = "{"
	_, err = store.Lookup(ctx, "e1", "bad")
	assert.ErrorContains(t, err, "decode")

	redis.err = errors.New("connection reset")
	_, err = store.Lookup(ctx, "e1", "s1")
	assert.Error(t, err)
}
