package activity

import (
	"context"
	"fmt"
	"testing"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(entries []domain.ActivityEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestRing_RecentNewestFirst(t *testing.T) {
	r := NewRing(3)
	ctx := context.Background()
	assert.Empty(t, r.Recent(0))

	r.Record(ctx, domain.ActivityEntry{Message: "one"})
	r.Record(ctx, domain.ActivityEntry{Message: "two"})
	assert.Equal(t, []string{"two", "one"}, messages(r.Recent(0)))
	assert.Equal(t, []string{"two"}, messages(r.Recent(1)))

	r.Record(ctx, domain.ActivityEntry{Message: "three"})
	r.Record(ctx, domain.ActivityEntry{Message: "four"})
	assert.Equal(t, []string{"four", "three", "two"}, messages(r.Recent(10)))
}

func TestRing_Wraps(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 10; i++ {
		r.Record(context.Background(), domain.ActivityEntry{Message: fmt.Sprint(i)})
	}
	assert.Equal(t, []string{"9", "8", "7", "6"}, messages(r.Recent(0)))
}

func TestRing_DefaultsAndLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRing(0)
	r.logger = logger
	assert.Len(t, r.entries, DefaultCapacity)

	r.Record(context.Background(), domain.ActivityEntry{Session: "session-1", Level: "error", Message: "pull failed"})
	r.Record(context.Background(), domain.ActivityEntry{Message: "scheduled cleanup"})

	entries := r.Recent(0)
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	assert.False(t, entries[0].Time.IsZero())

	require.Len(t, hook.AllEntries(), 2)
	first := hook.AllEntries()[0]
	assert.Equal(t, log.ErrorLevel, first.Level)
	assert.Equal(t, "session-1", first.Data["session"])
	assert.Equal(t, log.InfoLevel, hook.LastEntry().Level)
}
