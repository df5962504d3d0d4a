package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/sharedcontext/internal/contextstore"
	"github.com/localrivet/sharedcontext/internal/errortypes"
)

// failingStore wraps a real store and fails the append with index failAt.
type failingStore struct {
	contextstore.ContextStore
	appends int
	failAt  int
}

func (f *failingStore) AppendEntry(ctx context.Context, contextID, content string) (*contextstore.Entry, error) {
	if f.appends == f.failAt {
		f.appends++
		return nil, errortypes.TransientError(errors.New("pool exhausted"), "failed to append entry")
	}
	f.appends++
	return f.ContextStore.AppendEntry(ctx, contextID, content)
}

func newStore(t *testing.T) *contextstore.SQLiteContextStore {
	t.Helper()
	store := contextstore.NewSQLiteContextStore(contextstore.WithPoolSize(2))
	require.NoError(t, store.Initialize(filepath.Join(t.TempDir(), "svc.db")))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestCreateContextWithEntries(t *testing.T) {
	svc := NewContextService(newStore(t), nil)
	ctx := context.Background()

	res, err := svc.CreateContext(ctx, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ContextID)
	assert.NotEmpty(t, res.URI)
	assert.NotEqual(t, res.ContextID, res.URI)

	page, err := svc.GetContext(ctx, res.ContextID, contextstore.OrderAsc, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "a", page.Entries[0].Content)
	assert.Equal(t, "b", page.Entries[1].Content)
	assert.Greater(t, page.Entries[0].Timestamp, int64(0))
}

func TestCreateContextIsNotAtomic(t *testing.T) {
	store := &failingStore{ContextStore: newStore(t), failAt: 2}
	svc := NewContextService(store, nil)
	ctx := context.Background()

	_, err := svc.CreateContext(ctx, []string{"one", "two", "three", "four"}, nil)
	require.Error(t, err)
	assert.True(t, errortypes.IsTransientError(err))

	list, err := svc.ListContexts(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)

	page, err := svc.GetContext(ctx, list.Contexts[0].ID, contextstore.OrderAsc, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestReadmeRoundTrip(t *testing.T) {
	svc := NewContextService(newStore(t), nil)
	ctx := context.Background()

	_, err := svc.UpdateReadme(ctx, "unknown", strPtr("x"))
	require.Error(t, err)
	assert.True(t, errortypes.IsNotFoundError(err))

	res, err := svc.CreateContext(ctx, nil, nil)
	require.NoError(t, err)

	readme, err := svc.GetReadme(ctx, res.ContextID)
	require.NoError(t, err)
	assert.Nil(t, readme)

	ok, err := svc.UpdateReadme(ctx, res.ContextID, strPtr("x"))
	require.NoError(t, err)
	assert.True(t, ok)

	readme, err = svc.GetReadme(ctx, res.ContextID)
	require.NoError(t, err)
	require.NotNil(t, readme)
	assert.Equal(t, "x", *readme)

	_, err = svc.GetReadme(ctx, "unknown")
	assert.True(t, errortypes.IsNotFoundError(err))
}

func TestEmptyReadmeIsDistinctFromUnset(t *testing.T) {
	svc := NewContextService(newStore(t), nil)
	ctx := context.Background()

	res, err := svc.CreateContext(ctx, nil, strPtr(""))
	require.NoError(t, err)

	readme, err := svc.GetReadme(ctx, res.ContextID)
	require.NoError(t, err)
	require.NotNil(t, readme)
	assert.Equal(t, "", *readme)
}

func TestAddEntryAndGetContextUnknown(t *testing.T) {
	svc := NewContextService(newStore(t), nil)
	ctx := context.Background()

	_, err := svc.AddEntry(ctx, "unknown", "m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errortypes.ErrContextNotFound))

	_, err = svc.GetContext(ctx, "unknown", contextstore.OrderAsc, 20, 0)
	assert.True(t, errortypes.IsNotFoundError(err))

	res, err := svc.CreateContext(ctx, nil, nil)
	require.NoError(t, err)

	view, err := svc.AddEntry(ctx, res.ContextID, "")
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "", view.Content)

	page, err := svc.GetContext(ctx, res.ContextID, contextstore.OrderDesc, 20, 0)
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, view.ID, page.Entries[0].ID)
	assert.Equal(t, view.Timestamp, page.Entries[0].Timestamp)
}

func TestListContextsSummaries(t *testing.T) {
	svc := NewContextService(newStore(t), nil)
	ctx := context.Background()

	first, err := svc.CreateContext(ctx, nil, strPtr("readme"))
	require.NoError(t, err)
	_, err = svc.CreateContext(ctx, nil, nil)
	require.NoError(t, err)

	page, err := svc.ListContexts(ctx, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Contexts, 2)

	var found bool
	for _, c := range page.Contexts {
		if c.ID == first.ContextID {
			found = true
			assert.Equal(t, first.URI, c.URI)
			require.NotNil(t, c.Readme)
			assert.Equal(t, "readme", *c.Readme)
		}
	}
	assert.True(t, found)
}
