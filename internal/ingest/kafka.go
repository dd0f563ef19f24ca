package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/kluzzebass/treeserve/internal/jsoncodec"
	"github.com/kluzzebass/treeserve/internal/pool"
	"github.com/kluzzebass/treeserve/internal/variant"
)

// pullKafka reads the most recent record from one topic and decodes its
// value, supplementing spec.md's file/subprocess source set with the
// teacher's own ingestion target (SPEC_FULL.md §3, internal/ingester/kafka
// for the franz-go wiring convention). args is "brokers,topic" or
// "brokers,topic,group"; brokers is itself comma-joined.
func (in *Ingester) pullKafka(ctx context.Context, args []string) (*pool.Pool, variant.V, error) {
	if len(args) < 2 {
		return nil, variant.V{}, fmt.Errorf("kafka entry needs at least \"brokers,topic\" as args")
	}
	brokers := strings.Split(args[0], ",")
	topic := args[1]
	group := fmt.Sprintf("treeserve-ingest-%s", topic)
	if len(args) > 2 && args[2] != "" {
		group = args[2]
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd().Relative(-1)),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, variant.V{}, fmt.Errorf("kafka client for %q: %w", topic, err)
	}
	defer client.Close()

	fetches := client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		return nil, variant.V{}, fmt.Errorf("kafka poll %q: %v", topic, errs[0].Err)
	}

	var last []byte
	fetches.EachRecord(func(rec *kgo.Record) {
		last = rec.Value
	})
	if last == nil {
		return nil, variant.V{}, fmt.Errorf("kafka topic %q: no records available", topic)
	}

	p := pool.New()
	v, err := jsoncodec.DecodeAuto(bytes.NewReader(last), p)
	if err != nil {
		return nil, variant.V{}, fmt.Errorf("decode kafka record from %q: %w", topic, err)
	}
	return p, v, nil
}
