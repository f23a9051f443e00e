package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(client, RedisOptions{Namespace: "test"}),
	}
}

func TestCollectionLoadEmpty(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			items, err := NewCollection[item](store, "things").Load(context.Background())
			require.NoError(t, err)
			require.Empty(t, items)
		})
	}
}

func TestCollectionMutatePersists(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCollection[item](store, "things")
			require.NoError(t, c.Mutate(ctx, func(items []item) ([]item, error) {
				return append(items, item{ID: "a", Count: 1}), nil
			}))
			require.NoError(t, c.Mutate(ctx, func(items []item) ([]item, error) {
				items[0].Count++
				return append(items, item{ID: "b"}), nil
			}))

			items, err := c.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, []item{{ID: "a", Count: 2}, {ID: "b"}}, items)
		})
	}
}

func TestCollectionMutateErrorWritesNothing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCollection[item](store, "things")
			require.NoError(t, c.Mutate(ctx, func(items []item) ([]item, error) {
				return []item{{ID: "a"}}, nil
			}))

			boom := errors.New("guard failed")
			err := c.Mutate(ctx, func(items []item) ([]item, error) {
				items[0].Count = 99
				return items, boom
			})
			require.ErrorIs(t, err, boom)

			items, err := c.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, []item{{ID: "a"}}, items)
		})
	}
}

func TestMutatePairIsAllOrNothing(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			heads := NewCollection[item](store, "heads")
			lines := NewCollection[item](store, "lines")

			require.NoError(t, MutatePair(ctx, heads, lines, func(hs, ls []item) ([]item, []item, error) {
				return append(hs, item{ID: "h1"}), append(ls, item{ID: "l1"}, item{ID: "l2"}), nil
			}))
			err := MutatePair(ctx, heads, lines, func(hs, ls []item) ([]item, []item, error) {
				return append(hs, item{ID: "h2"}), nil, errors.New("invalid line")
			})
			require.Error(t, err)

			hs, err := heads.Load(ctx)
			require.NoError(t, err)
			require.Len(t, hs, 1)
			ls, err := lines.Load(ctx)
			require.NoError(t, err)
			require.Len(t, ls, 2)
		})
	}
}

func TestMutatePairRejectsDifferentStores(t *testing.T) {
	a := NewCollection[item](NewMemory(), "a")
	b := NewCollection[item](NewMemory(), "b")
	err := MutatePair(context.Background(), a, b, func(as, bs []item) ([]item, []item, error) {
		return as, bs, nil
	})
	require.Error(t, err)
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := NewCollection[item](store, "counter")
			require.NoError(t, c.Mutate(ctx, func([]item) ([]item, error) {
				return []item{{ID: "n"}}, nil
			}))

			const workers = 10
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- c.Mutate(ctx, func(items []item) ([]item, error) {
						items[0].Count++
						return items, nil
					})
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			items, err := c.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, workers, items[0].Count)
		})
	}
}

func TestRedisUsesNamespacedKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedis(client, RedisOptions{Namespace: "depot-test"})
	c := NewCollection[item](store, CollectionRolls)
	require.NoError(t, c.Mutate(context.Background(), func([]item) ([]item, error) {
		return []item{{ID: "r1"}}, nil
	}))

	raw, err := mr.Get(fmt.Sprintf("depot-test:%s", CollectionRolls))
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"r1","count":0}]`, raw)
}

func TestDecodeErrorIsWrapped(t *testing.T) {
	store := NewMemory()
	require.NoError(t, store.Update(context.Background(), []string{"bad"}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{"bad": []byte("{not json")}, nil
	}))
	_, err := NewCollection[item](store, "bad").Load(context.Background())
	require.ErrorContains(t, err, "kvstore: decode bad")
}
