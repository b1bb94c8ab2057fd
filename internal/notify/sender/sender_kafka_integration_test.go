//go:build integration

package sender_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"lifetag/internal/notify/models"
	"lifetag/internal/notify/sender"
	"lifetag/internal/platform/config"
	"lifetag/internal/platform/kafka"
	"lifetag/pkg/testutil/containers"
)

func TestKafkaSenderDeliversToBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const topic = "lifetag.notifications.test"
	producer, err := kafka.NewProducer(config.KafkaConfig{Brokers: broker.Brokers, ClientID: "lifetag-test"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureTopic(ctx, topic, 1, 1))

	s := sender.NewKafkaSender(producer, topic)
	payload := models.Payload{EventID: "ev-42", TagID: "TAG-1", ProfileID: "p-1", AccessedAt: time.Now().UTC()}
	require.NoError(t, s.Send(ctx, models.Channel{Kind: models.ChannelEmail, Address: "sam@example.com"}, "tpl", payload))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())
	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, "ev-42", string(records[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &body))
	require.Equal(t, "sam@example.com", body["address"])
}
