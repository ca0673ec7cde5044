package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MRNMT/HopInBookingSystem-sub001/internal/domain"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/database"
	"github.com/MRNMT/HopInBookingSystem-sub001/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intentResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func countingOp(calls *int32, id string) Operation {
	return func(ctx context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return &intentResult{ID: id, ClientSecret: id + "_secret"}, nil
	}
}

func TestExecuteOnce_RecordsFirstResult(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	var calls int32
	var first intentResult
	replayed, err := l.ExecuteOnce(ctx, "key-1", domain.OperationCreateIntent, countingOp(&calls, "pi_1"), &first)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "pi_1", first.ID)

	var second intentResult
	replayed, err = l.ExecuteOnce(ctx, "key-1", domain.OperationCreateIntent, countingOp(&calls, "pi_2"), &second)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "pi_1", second.ID)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, 1, store.Len())
}

func TestExecuteOnce_FailureIsNotRecorded(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	boom := errors.New("gateway unavailable")
	_, err := l.ExecuteOnce(ctx, "key-1", domain.OperationCreateIntent, func(ctx context.Context) (any, error) {
		return nil, boom
	}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())

	var calls int32
	var out intentResult
	replayed, err := l.ExecuteOnce(ctx, "key-1", domain.OperationCreateIntent, countingOp(&calls, "pi_1"), &out)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, int32(1), calls)
}

func TestExecuteOnce_ConcurrentCallsRunOnce(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	var calls int32
	slowOp := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return &intentResult{ID: "pi_1"}, nil
	}

	var wg sync.WaitGroup
	ids := make([]string, 25)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var out intentResult
			if _, err := l.ExecuteOnce(ctx, "same-key", domain.OperationCreateIntent, slowOp, &out); err == nil {
				ids[i] = out.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, id := range ids {
		assert.Equal(t, "pi_1", id)
	}
}

func TestExecuteOnce_KindMismatch(t *testing.T) {
	l := New(NewMemoryStore())
	ctx := context.Background()

	var calls int32
	_, err := l.ExecuteOnce(ctx, "key-1", domain.OperationCreateIntent, countingOp(&calls, "pi_1"), nil)
	require.NoError(t, err)

	_, err = l.ExecuteOnce(ctx, "key-1", domain.OperationRefund, countingOp(&calls, "re_1"), nil)
	assert.ErrorIs(t, err, ErrKindMismatch)
	assert.Equal(t, int32(1), calls)
}

func TestExecuteOnce_EmptyKey(t *testing.T) {
	l := New(NewMemoryStore())

	_, err := l.ExecuteOnce(context.Background(), "", domain.OperationRefund, nil, nil)
	assert.True(t, domain.IsValidationError(err))
}

// racingStore reports no entry on Get but loses the insert, as happens when
// another process records the key between our lookup and our write
type racingStore struct {
	winner *domain.LedgerEntry
}

func (s *racingStore) Get(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	return nil, ErrEntryNotFound
}

func (s *racingStore) PutIfAbsent(ctx context.Context, entry *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	return s.winner, false, nil
}

func TestExecuteOnce_LostRaceReturnsWinner(t *testing.T) {
	snapshot, _ := json.Marshal(&intentResult{ID: "pi_winner"})
	l := New(&racingStore{winner: &domain.LedgerEntry{
		Key:            "key-1",
		OperationKind:  domain.OperationCreateIntent,
		ResultSnapshot: snapshot,
	}})

	var calls int32
	var out intentResult
	replayed, err := l.ExecuteOnce(context.Background(), "key-1", domain.OperationCreateIntent, countingOp(&calls, "pi_loser"), &out)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "pi_winner", out.ID)
}

func TestMemoryStore_PutIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	first := &domain.LedgerEntry{Key: "k", OperationKind: domain.OperationRefund, ResultSnapshot: json.RawMessage(`{"id":"re_1"}`)}
	stored, inserted, err := s.PutIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.JSONEq(t, `{"id":"re_1"}`, string(stored.ResultSnapshot))

	second := &domain.LedgerEntry{Key: "k", OperationKind: domain.OperationRefund, ResultSnapshot: json.RawMessage(`{"id":"re_2"}`)}
	stored, inserted, err = s.PutIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.JSONEq(t, `{"id":"re_1"}`, string(stored.ResultSnapshot))
}

func skipUnlessIntegration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	key := "test_" + time.Now().Format("150405.000000000")

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	entry := &domain.LedgerEntry{
		Key:            key,
		OperationKind:  domain.OperationCreateIntent,
		ResultSnapshot: json.RawMessage(`{"id":"pi_1"}`),
		CreatedAt:      time.Now().UTC(),
	}
	_, inserted, err := s.PutIfAbsent(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *entry
	dup.ResultSnapshot = json.RawMessage(`{"id":"pi_2"}`)
	stored, inserted, err := s.PutIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.JSONEq(t, `{"id":"pi_1"}`, string(stored.ResultSnapshot))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationCreateIntent, got.OperationKind)
}

func TestPostgresStore_Integration(t *testing.T) {
	skipUnlessIntegration(t)

	db, err := database.NewPostgres(context.Background(), database.DefaultPostgresConfig())
	require.NoError(t, err)
	defer db.Close()

	storeContract(t, NewPostgresStore(db))
}

func TestRedisStore_Integration(t *testing.T) {
	skipUnlessIntegration(t)

	client, err := redis.NewClient(context.Background(), redis.DefaultConfig())
	require.NoError(t, err)
	defer client.Close()

	storeContract(t, NewRedisStore(client, time.Minute))
}
