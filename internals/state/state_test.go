package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetRoomIsLazyAndStable(t *testing.T) {
	s := New(context.Background(), zap.NewNop())

	r1 := s.GetRoom("abc-def-ghi")
	r2 := s.GetRoom("abc-def-ghi")
	require.Same(t, r1, r2, "repeated GetRoom for the same code must return the same room")
}

func TestGetRoomAssignsDistinctRoomIDs(t *testing.T) {
	s := New(context.Background(), zap.NewNop())

	r1 := s.GetRoom("aaa-aaa-aaa")
	r2 := s.GetRoom("bbb-bbb-bbb")
	require.NotEqual(t, r1.ID, r2.ID)
}

func TestRemoveRoomAllowsRecreation(t *testing.T) {
	s := New(context.Background(), zap.NewNop())

	r1 := s.GetRoom("ccc-ccc-ccc")
	s.RemoveRoom("ccc-ccc-ccc")
	r2 := s.GetRoom("ccc-ccc-ccc")

	require.NotSame(t, r1, r2, "a removed room's code must be free to mint a fresh room")
}

func TestGetRoomConcurrentSameCode(t *testing.T) {
	s := New(context.Background(), zap.NewNop())

	var wg sync.WaitGroup
	rooms := make([]*struct{ id uint32 }, 50)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := s.GetRoom("shared-code")
			rooms[i] = &struct{ id uint32 }{id: r.ID}
		}(i)
	}
	wg.Wait()

	first := rooms[0].id
	for _, r := range rooms {
		require.Equal(t, first, r.id)
	}
}
