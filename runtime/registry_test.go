package runtime

import (
	"fmt"
	"line-chat/domain"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Insert_One_Participant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	id := domain.NewConnectionID()

	// Given nobody is connected
	req.Empty(registry.SnapshotNames())
	req.Equal(0, registry.Len())

	// When a participant is inserted
	registry.Insert(id, "alice")

	// Then
	req.Equal([]domain.DisplayName{"alice"}, registry.SnapshotNames())
	req.Equal(1, registry.Len())
}

func TestRegistry_Snapshot_Keeps_Join_Order(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	names := []domain.DisplayName{"alice", "bob", "clara", "dave", "eve"}

	for _, n := range names {
		registry.Insert(domain.NewConnectionID(), n)
	}

	req.Equal(names, registry.SnapshotNames())
}

func TestRegistry_Insert_Existing_Identity_Overwrites(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	first := domain.NewConnectionID()
	second := domain.NewConnectionID()

	registry.Insert(first, "alice")
	registry.Insert(second, "bob")

	// When the first identity is inserted again
	registry.Insert(first, "alicia")

	// Then there is still one entry for it, at the same position
	req.Equal(2, registry.Len())
	req.Equal([]domain.DisplayName{"alicia", "bob"}, registry.SnapshotNames())
}

func TestRegistry_Duplicate_Names_Are_Allowed(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	registry.Insert(domain.NewConnectionID(), "bob")
	registry.Insert(domain.NewConnectionID(), "bob")

	req.Equal([]domain.DisplayName{"bob", "bob"}, registry.SnapshotNames())
}

func TestRegistry_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	alice := domain.NewConnectionID()
	bob := domain.NewConnectionID()
	registry.Insert(alice, "alice")
	registry.Insert(bob, "bob")

	// When alice leaves
	registry.Remove(alice)

	// Then only bob is left
	req.Equal([]domain.DisplayName{"bob"}, registry.SnapshotNames())

	// And removing an unknown or already removed identity is a no-op
	registry.Remove(alice)
	registry.Remove(domain.NewConnectionID())
	req.Equal(1, registry.Len())
}

func TestRegistry_Concurrent_Insert_Remove(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	const workers = 50

	var wg sync.WaitGroup
	kept := make([]domain.ConnectionID, workers)
	for i := 0; i < workers; i++ {
		kept[i] = domain.NewConnectionID()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			transient := domain.NewConnectionID()
			registry.Insert(transient, domain.DisplayName(fmt.Sprintf("transient-%d", i)))
			registry.Insert(kept[i], domain.DisplayName(fmt.Sprintf("user-%d", i)))
			_ = registry.SnapshotNames()
			registry.Remove(transient)
		}(i)
	}
	wg.Wait()

	// Then at the quiescent point only the kept identities remain
	names := registry.SnapshotNames()
	req.Len(names, workers)
	for i := 0; i < workers; i++ {
		req.Contains(names, domain.DisplayName(fmt.Sprintf("user-%d", i)))
	}
}
