package cmd_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/persistence/file"
	"github.com/dukex/crmflow/pkg/suppression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	bus, err := cmd.NewEventBus(cmd.EventBusGoChannel, nil, logger)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("rabbitmq", nil, logger)
	require.ErrorIs(t, err, cmd.ErrUnsupportedEventBus)

	_, err = cmd.NewEventBus(cmd.EventBusKafka, nil, logger)
	require.Error(t, err)
}

func TestNewPersistence_File(t *testing.T) {
	t.Parallel()

	for _, url := range []string{"file://" + t.TempDir(), t.TempDir()} {
		store, err := cmd.NewPersistence(context.Background(), slog.New(slog.DiscardHandler), url)
		require.NoError(t, err)
		assert.IsType(t, &file.Persistence{}, store)
		require.NoError(t, store.HealthCheck(context.Background()))
	}
}

func TestNewSuppression_DefaultsToMemory(t *testing.T) {
	t.Parallel()

	list, err := cmd.NewSuppression(context.Background(), "", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.IsType(t, &suppression.MemoryList{}, list)
}
