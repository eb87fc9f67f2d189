//go:build integration

package publisher_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"medvault/internal/audit"
	"medvault/internal/audit/publisher"
	"medvault/pkg/testutil/containers"
)

func TestKafkaPublisher_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rp := containers.NewRedpandaContainer(t)
	ctx := context.Background()

	pub, err := publisher.NewKafka([]string{rp.Broker}, "medvault.audit")
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	require.NoError(t, pub.EnsureTopic(ctx))
	// EnsureTopic is idempotent against an existing topic.
	require.NoError(t, pub.EnsureTopic(ctx))

	entry := audit.Entry{
		Sequence:  1,
		Timestamp: time.Now().UTC(),
		Actor:     "0xdoctor",
		Action:    audit.ActionRecordCreated,
		RecordID:  1,
		Subject:   "1",
		RequestID: "req-1",
	}
	require.NoError(t, pub.Publish(ctx, entry))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics("medvault.audit"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)

	var payload struct {
		Sequence uint64 `json:"sequence"`
		Actor    string `json:"actor"`
		Action   string `json:"action"`
		RecordID uint64 `json:"record_id"`
	}
	require.NoError(t, json.Unmarshal(records[0].Value, &payload))
	require.Equal(t, uint64(1), payload.Sequence)
	require.Equal(t, "0xdoctor", payload.Actor)
	require.Equal(t, string(audit.ActionRecordCreated), payload.Action)
	require.Equal(t, uint64(1), payload.RecordID)
	require.Equal(t, "1", string(records[0].Key))
}
