//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/fire-data-etl/internal/adapter/file"
	"github.com/couchcryptid/fire-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/fire-data-etl/internal/config"
	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/observability"
	"github.com/couchcryptid/fire-data-etl/internal/pipeline"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

const testSinkTopic = "test-fire-views"

// viewMessage holds a message read from the sink topic.
type viewMessage struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("fire-data-etl"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// readViews reads n messages from the sink topic.
func readViews(ctx context.Context, t *testing.T, consumer *kafkago.Reader, n int) []viewMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([]viewMessage, 0, n)
	for len(out) < n {
		msg, err := consumer.ReadMessage(readCtx)
		require.NoError(t, err, "read from sink topic")
		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		out = append(out, viewMessage{Key: string(msg.Key), Value: msg.Value, Headers: headers})
	}
	return out
}

func fixtureSources() pipeline.Sources {
	dir := filepath.Join("..", "pipeline", "testdata")
	return pipeline.Sources{
		Incidents: file.CSVFile{Path: filepath.Join(dir, "fire_info.csv")},
		Weather:   file.CSVFile{Path: filepath.Join(dir, "weather_info.csv")},
		Socio:     file.JSONFile{Path: filepath.Join(dir, "other_info.json")},
	}
}

// TestWriterPublishesSnapshot verifies kafka.Writer round-trips a snapshot through Kafka.
func TestWriterPublishesSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	generatedAt := time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC)
	require.NoError(t, writer.PublishViews(ctx, domain.ViewSnapshot{
		Filter: domain.FilterState{
			Range:      domain.DefaultTimeRange(time.UTC),
			Categories: domain.DefaultCategories(),
		},
		Locations:   []domain.DerivedLocation{{FireCode: 5001, FireLat: 30.25, FireLng: 120.16, StationCode: "HZ01"}},
		Stations:    []domain.DerivedStation{{StationCode: "HZ01", StationLat: 30.27, StationLng: 120.15, TaskCount: 1}},
		GeneratedAt: generatedAt,
	}))

	msgs := readViews(ctx, t, newConsumer(t, broker), 3)

	assert.Equal(t, "filter:active", msgs[0].Key)
	assert.Equal(t, domain.ViewFilter, msgs[0].Headers["view"])
	assert.Equal(t, "location:5001", msgs[1].Key)
	assert.Equal(t, "station:HZ01", msgs[2].Key)
	assert.Equal(t, generatedAt.Format(time.RFC3339), msgs[2].Headers["generated_at"])

	var st domain.DerivedStation
	require.NoError(t, json.Unmarshal(msgs[2].Value, &st))
	assert.Equal(t, 1, st.TaskCount)
}

// TestSessionEndToEnd loads the fixture files through a Session and verifies the
// published views match the in-process derived views.
func TestSessionEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	metrics := observability.NewMetricsForTesting()
	s := pipeline.New(domain.NewNormalizer(time.UTC), fixtureSources(), writer, discardLogger(), metrics, pipeline.Options{CacheSize: 16})

	sessionCtx, sessionCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(sessionCtx) }()

	locations := 6
	stations := 3
	msgs := readViews(ctx, t, newConsumer(t, broker), 1+locations+stations)

	sessionCancel()
	require.NoError(t, <-errCh)

	counts := map[string]int{}
	tasks := 0
	for _, m := range msgs {
		counts[m.Headers["view"]]++
		_, err := time.Parse(time.RFC3339, m.Headers["generated_at"])
		assert.NoError(t, err, "generated_at should be valid RFC3339")

		if m.Headers["view"] == domain.ViewStation {
			var st domain.DerivedStation
			require.NoError(t, json.Unmarshal(m.Value, &st))
			tasks += st.TaskCount
		}
	}
	assert.Equal(t, 1, counts[domain.ViewFilter])
	assert.Equal(t, locations, counts[domain.ViewLocation])
	assert.Equal(t, stations, counts[domain.ViewStation])
	assert.Equal(t, len(s.FilteredIncidents()), tasks)
}
