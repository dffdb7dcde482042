package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/kafka/producer"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/logger"
)

const maxEventLine = 4 << 20

func newPublishCommand(o *rootOptions) *cobra.Command {
	var (
		topic string
		acks  string
	)
	cmd := &cobra.Command{
		Use:   "publish [file]",
		Short: "Publish change events to Kafka",
		Long: `Reads change events as JSON lines from file, or stdin when no file is
given, and produces them to the topic. Each event is keyed by its record slot
so events for one record stay on one partition in order.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			if topic == "" && len(cfg.Kafka.Topics) > 0 {
				topic = cfg.Kafka.Topics[0]
			}
			if topic == "" {
				return fmt.Errorf("no topic given")
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close() //nolint:errcheck
				in = f
			}
			msgs, err := readEvents(in, topic)
			if err != nil {
				return err
			}

			log := logger.New(cfg.Log.Level)
			p, err := producer.New(producer.Config{
				Brokers:         cfg.Kafka.Brokers,
				Acks:            acks,
				Retries:         3,
				DeliveryTimeout: 30 * time.Second,
			}, log)
			if err != nil {
				return err
			}
			defer p.Close() //nolint:errcheck

			deliveries, err := publish(cmd.Context(), p, msgs)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d events to %s across %d partitions\n",
				len(deliveries), topic, partitions(deliveries))
			return err
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "destination topic (default: first kafka.topics entry)")
	cmd.Flags().StringVar(&acks, "acks", "all", "required acks: 0, 1 or all")
	return cmd
}

type batchProducer interface {
	ProduceBatch(ctx context.Context, msgs []*producer.Message) ([]producer.Delivery, error)
}

func publish(ctx context.Context, p batchProducer, msgs []*producer.Message) ([]producer.Delivery, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	return p.ProduceBatch(ctx, msgs)
}

func partitions(ds []producer.Delivery) int {
	seen := make(map[int32]struct{}, len(ds))
	for _, d := range ds {
		seen[d.Partition] = struct{}{}
	}
	return len(seen)
}

// readEvents decodes one event per non-blank line. Every event must name a
// valid record slot.
func readEvents(r io.Reader, topic string) ([]*producer.Message, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventLine)

	var msgs []*producer.Message
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch ev.Action {
		case models.ActionCreate, models.ActionUpdate, models.ActionDelete:
		default:
			return nil, fmt.Errorf("line %d: unknown action %q", line, ev.Action)
		}
		if _, err := ev.Locator(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, &producer.Message{
			Topic: topic,
			Key:   []byte(ingest.LaneKey(ev)),
			Value: value,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return msgs, nil
}
