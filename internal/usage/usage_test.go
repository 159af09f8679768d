package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/studiovault/internal/models"
	"github.com/fruitsalade/studiovault/internal/objstore"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) List(ctx context.Context, prefix string) ([]objstore.ObjectSummary, error) {
	args := m.Called(ctx, prefix)
	out, _ := args.Get(0).([]objstore.ObjectSummary)
	return out, args.Error(1)
}

type staticPrefix string

func (p staticPrefix) TenantPrefix(context.Context, string) (string, error) {
	return string(p), nil
}

func obj(key string, size int64) objstore.ObjectSummary {
	return objstore.ObjectSummary{Key: key, Size: size}
}

func TestComputeUsageCurrentPrefix(t *testing.T) {
	lister := new(mockLister)
	lister.On("List", mock.Anything, "tenant-jane/").Return([]objstore.ObjectSummary{
		obj("tenant-jane/session-a/gallery/a.jpg", 1000),
		obj("tenant-jane/session-a/raw/a.cr2", 5000),
		obj("tenant-jane/session-a/documents/contract.pdf", 200),
		obj("tenant-jane/session-a/thumbnails/small/a.jpg", 10),
		obj("tenant-jane/session-a/backup_index.json", 999),
		obj("tenant-jane/session-b/misc.zip", 300),
	}, nil)
	lister.On("List", mock.Anything, "_thumbs/tenant-jane/").Return([]objstore.ObjectSummary{
		obj("_thumbs/tenant-jane/session-a/gallery/a.jpg", 20),
	}, nil)

	c := NewCalculator(lister, staticPrefix("tenant-jane/"), 0.8)
	snap, err := c.ComputeUsage(context.Background(), "42", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(6530), snap.TotalBytes)
	assert.Equal(t, 6, snap.FileCount)
	assert.Equal(t, int64(1000), snap.ByCategoryBytes[models.CategoryGallery])
	assert.Equal(t, int64(5000), snap.ByCategoryBytes[models.CategoryRaw])
	assert.Equal(t, int64(200), snap.ByCategoryBytes[models.CategoryDocuments])
	assert.Equal(t, int64(30), snap.ByCategoryBytes[models.CategoryThumbnails])
	assert.Equal(t, int64(300), snap.ByCategoryBytes[models.CategoryOther])
	assert.Equal(t, "tenant-jane/", snap.SourcePrefix)
	assert.Equal(t, models.UsageUnlimited, snap.Status)
	lister.AssertExpectations(t)
}

func TestComputeUsageFallsBackToLegacyPrefixes(t *testing.T) {
	lister := new(mockLister)
	lister.On("List", mock.Anything, "tenant-jane/").Return(nil, nil)
	lister.On("List", mock.Anything, "tenants/42/").Return(nil, nil)
	lister.On("List", mock.Anything, "photographer-42/").Return([]objstore.ObjectSummary{
		obj("photographer-42/wedding/IMG_0001.JPG", 400),
		obj("photographer-42/wedding/IMG_0001.CR2", 600),
	}, nil)
	lister.On("List", mock.Anything, "_thumbs/photographer-42/").Return(nil, nil)

	c := NewCalculator(lister, staticPrefix("tenant-jane/"), 0.8)
	snap, err := c.ComputeUsage(context.Background(), "42", 0)
	require.NoError(t, err)

	assert.Equal(t, "photographer-42/", snap.SourcePrefix)
	assert.Equal(t, int64(1000), snap.TotalBytes)
	assert.Equal(t, int64(400), snap.ByCategoryBytes[models.CategoryGallery])
	assert.Equal(t, int64(600), snap.ByCategoryBytes[models.CategoryRaw])
	lister.AssertNotCalled(t, "List", mock.Anything, "42/")
}

func TestStatusBands(t *testing.T) {
	tests := []struct {
		used, quota int64
		status      string
		percent     float64
	}{
		{500, 0, models.UsageUnlimited, 0},
		{500, 1000, models.UsageOK, 50},
		{800, 1000, models.UsageNearLimit, 80},
		{999, 1000, models.UsageNearLimit, 99.9},
		{1000, 1000, models.UsageOverLimit, 100},
		{1500, 1000, models.UsageOverLimit, 150},
	}
	for _, tt := range tests {
		lister := new(mockLister)
		lister.On("List", mock.Anything, "tenant-x/").Return([]objstore.ObjectSummary{
			obj("tenant-x/session-y/gallery/a.jpg", tt.used),
		}, nil)
		lister.On("List", mock.Anything, "_thumbs/tenant-x/").Return(nil, nil)

		c := NewCalculator(lister, staticPrefix("tenant-x/"), 0)
		snap, err := c.ComputeUsage(context.Background(), "x", tt.quota)
		require.NoError(t, err)
		assert.Equal(t, tt.status, snap.Status, "%d/%d", tt.used, tt.quota)
		assert.InDelta(t, tt.percent, snap.PercentUsed, 0.001)
	}
}

func TestEmptyTenant(t *testing.T) {
	lister := new(mockLister)
	lister.On("List", mock.Anything, mock.Anything).Return(nil, nil)

	c := NewCalculator(lister, staticPrefix("tenant-new/"), 0.9)
	snap, err := c.ComputeUsage(context.Background(), "9", 1<<30)
	require.NoError(t, err)
	assert.Zero(t, snap.TotalBytes)
	assert.Equal(t, "tenant-new/", snap.SourcePrefix)
	assert.Equal(t, models.UsageOK, snap.Status)
}
