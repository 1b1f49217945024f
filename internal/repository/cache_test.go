package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detectionapi/internal/model"
)

// memoryCatalog keeps records in commit order and counts reads.
type memoryCatalog struct {
	records     []model.ResultRecord
	latestCalls int
	getCalls    int
}

func (m *memoryCatalog) Commit(_ context.Context, r *model.ResultRecord) error {
	m.records = append(m.records, *r)
	return nil
}

func (m *memoryCatalog) Latest(context.Context) (*model.ResultRecord, error) {
	m.latestCalls++
	if len(m.records) == 0 {
		return nil, ErrNotFound
	}
	r := m.records[len(m.records)-1]
	return &r, nil
}

func (m *memoryCatalog) Get(_ context.Context, id string) (*model.ResultRecord, error) {
	m.getCalls++
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].ID == id {
			r := m.records[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryCatalog) Exists(ctx context.Context, id string) (bool, error) {
	_, err := m.Get(ctx, id)
	return err == nil, nil
}

func (m *memoryCatalog) List(context.Context, int, int) ([]model.ResultRecord, error) {
	return m.records, nil
}

func (m *memoryCatalog) Count(context.Context) (int, error) { return len(m.records), nil }
func (m *memoryCatalog) Close() error                       { return nil }

func TestCachedCatalog_ServesLatestFromCache(t *testing.T) {
	inner := &memoryCatalog{}
	c := NewCachedCatalog(inner, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "first001"}))

	for i := 0; i < 3; i++ {
		rec, err := c.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "first001", rec.ID)
	}
	assert.Equal(t, 1, inner.latestCalls)
}

func TestCachedCatalog_CommitInvalidates(t *testing.T) {
	inner := &memoryCatalog{}
	c := NewCachedCatalog(inner, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "first001"}))
	_, err := c.Latest(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "second02"}))
	rec, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second02", rec.ID)
	assert.Equal(t, 2, inner.latestCalls)
}

func TestCachedCatalog_NotFoundIsNotCached(t *testing.T) {
	inner := &memoryCatalog{}
	c := NewCachedCatalog(inner, time.Minute)
	ctx := context.Background()

	_, err := c.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "first001"}))
	rec, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first001", rec.ID)
}

func TestCachedCatalog_GetAndExists(t *testing.T) {
	inner := &memoryCatalog{}
	c := NewCachedCatalog(inner, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "byid0001"}))

	for i := 0; i < 2; i++ {
		rec, err := c.Get(ctx, "byid0001")
		require.NoError(t, err)
		assert.Equal(t, "byid0001", rec.ID)
	}
	assert.Equal(t, 1, inner.getCalls)

	ok, err := c.Exists(ctx, "byid0001")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, inner.getCalls)
}

func TestCachedCatalog_ReturnedRecordsAreCopies(t *testing.T) {
	inner := &memoryCatalog{}
	c := NewCachedCatalog(inner, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Commit(ctx, &model.ResultRecord{ID: "copy0001", ImageURL: "u"}))

	rec, err := c.Latest(ctx)
	require.NoError(t, err)
	rec.ImageURL = "mutated"

	again, err := c.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u", again.ImageURL)
}

func TestNewCachedCatalog_DisabledWithZeroTTL(t *testing.T) {
	inner := &memoryCatalog{}
	assert.Same(t, Catalog(inner), NewCachedCatalog(inner, 0))
}
