package cmd

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/events"
	"github.com/dukex/tryon/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestLogArchiveEvents(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(config.Events{Provider: "gochannel", Topic: "archive"}, false, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { _ = bus.Close() })

	out := &lockedBuffer{}
	require.NoError(t, LogArchiveEvents(t.Context(), bus, log.New(out, "info", "json")))

	record := testRecord()
	require.NoError(t, bus.Publish(t.Context(), record.ArchiveID, events.NewArchiveCreated(record)))

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"archive_id":"`+record.ArchiveID+`"`)
	}, 2*time.Second, 10*time.Millisecond)
}
