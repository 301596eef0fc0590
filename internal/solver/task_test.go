package solver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreConfig() StoreConfig {
	return StoreConfig{
		MaxLive:       4,
		TaskTimeout:   time.Minute,
		Retention:     time.Hour,
		RetentionSize: 16,
	}
}

func TestCreateAssignsUniqueIDsAndProxyBinding(t *testing.T) {
	t.Parallel()

	store := NewStore(testStoreConfig())
	a, err := store.Create("https://target", "key-1", "10.0.0.1:8080")
	require.NoError(t, err)
	b, err := store.Create("https://target", "key-1", "10.0.0.2:8080")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "10.0.0.1:8080", a.Proxy)
	assert.Equal(t, StatePending, a.State)
}

func TestCreateRejectsAtCapacity(t *testing.T) {
	t.Parallel()

	cfg := testStoreConfig()
	cfg.MaxLive = 2
	store := NewStore(cfg)

	_, err := store.Create("t", "k", "")
	require.NoError(t, err)
	_, err = store.Create("t", "k", "")
	require.NoError(t, err)
	_, err = store.Create("t", "k", "")
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestResolveIsTerminalOnce(t *testing.T) {
	t.Parallel()

	store := NewStore(testStoreConfig())
	task, err := store.Create("t", "k", "")
	require.NoError(t, err)

	assert.True(t, store.Resolve(task.ID, "token-1"))
	// A late worker result must not overwrite the terminal state.
	assert.False(t, store.Fail(task.ID, "late failure"))
	assert.False(t, store.Resolve(task.ID, "token-2"))

	got, ok := store.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, StateSolved, got.State)
	assert.Equal(t, "token-1", got.Token)
}

func TestGetIsIdempotentAfterTerminal(t *testing.T) {
	t.Parallel()

	store := NewStore(testStoreConfig())
	task, err := store.Create("t", "k", "")
	require.NoError(t, err)
	store.Fail(task.ID, "captcha_fail")

	first, ok := store.Get(task.ID)
	require.True(t, ok)
	second, ok := store.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, first, second, "repeated reads of a terminal task return the same outcome")
	assert.Equal(t, "captcha_fail", second.Reason)
}

func TestPendingPastTimeoutBecomesFailed(t *testing.T) {
	t.Parallel()

	cfg := testStoreConfig()
	cfg.TaskTimeout = 20 * time.Millisecond
	store := NewStore(cfg)

	task, err := store.Create("t", "k", "")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	got, ok := store.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, ReasonTimeout, got.Reason)

	// The timeout transition is itself terminal-once.
	assert.False(t, store.Resolve(task.ID, "too-late"))
	again, ok := store.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, got.Reason, again.Reason)
}

func TestTimeoutFreesCapacity(t *testing.T) {
	t.Parallel()

	cfg := testStoreConfig()
	cfg.MaxLive = 1
	cfg.TaskTimeout = 10 * time.Millisecond
	store := NewStore(cfg)

	task, err := store.Create("t", "k", "")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	// Reading the stuck task retires it, freeing the slot.
	_, ok := store.Get(task.ID)
	require.True(t, ok)
	_, err = store.Create("t", "k", "")
	assert.NoError(t, err)
}

func TestUnknownTaskID(t *testing.T) {
	t.Parallel()

	store := NewStore(testStoreConfig())
	_, ok := store.Get("no-such-task")
	assert.False(t, ok)
}
