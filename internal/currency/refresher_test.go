package currency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Centace/centace/pkg/logger"
)

func TestRefresherWarmsCache(t *testing.T) {
	f := &countingFetcher{table: usdTable}
	c := NewConverter(Config{Fetcher: f}, logger.NewNop())
	r := NewRefresher(c, "@every 1h", logger.NewNop())

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()), "second start is a no-op")

	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))

	assert.Equal(t, SourceFresh, c.Rates(context.Background()).Source)
}

func TestRefresherRejectsBadSchedule(t *testing.T) {
	c := NewConverter(Config{}, logger.NewNop())
	r := NewRefresher(c, "not a schedule", logger.NewNop())
	assert.Error(t, r.Start(context.Background()))
}
