package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/jetstream"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/kafka/consumer"
)

// ReasonMalformedEvent labels stream entries that are not valid events.
const ReasonMalformedEvent = "malformed_event"

// Batcher applies an ordered batch of events, returning only fatal errors.
type Batcher interface {
	DispatchBatch(ctx context.Context, events []models.Event) error
}

// CursorStore persists stream resume positions.
type CursorStore interface {
	SaveCursor(ctx context.Context, source, cursor string) error
	LoadCursor(ctx context.Context, source string) (string, error)
}

// SignerReverifier re-runs verification for every claim signed by a DID.
type SignerReverifier interface {
	ReverifySigner(ctx context.Context, did string) (int, error)
}

// KafkaSource adapts Kafka batches of JSON-encoded events to a Batcher.
// Offsets are committed by the consumer once HandleBatch returns nil.
type KafkaSource struct {
	next    Batcher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewKafkaSource creates a Kafka adapter feeding next.
func NewKafkaSource(next Batcher, m *metrics.Metrics, logger *slog.Logger) *KafkaSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{next: next, metrics: m, logger: logger}
}

// HandleBatch implements consumer.Handler.
func (s *KafkaSource) HandleBatch(ctx context.Context, msgs []*consumer.Message) error {
	events := make([]models.Event, 0, len(msgs))
	for _, msg := range msgs {
		var ev models.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.metrics.RecordParseFailure(ReasonMalformedEvent)
			s.logger.WarnContext(ctx, "malformed kafka event skipped",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		ev.Source = "kafka:" + msg.Topic
		ev.Cursor = fmt.Sprintf("%d:%d", msg.Partition, msg.Offset)
		events = append(events, ev)
	}
	return s.next.DispatchBatch(ctx, events)
}

// JetstreamSource adapts Jetstream batches to a Batcher and stores the
// time_us cursor after every handled batch. Identity and account events
// trigger re-verification of the DID's signed claims.
type JetstreamSource struct {
	name    string
	next    Batcher
	cursors CursorStore
	signers SignerReverifier
	logger  *slog.Logger
}

// NewJetstreamSource creates a Jetstream adapter. signers may be nil.
func NewJetstreamSource(name string, next Batcher, cursors CursorStore, signers SignerReverifier, logger *slog.Logger) *JetstreamSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &JetstreamSource{name: name, next: next, cursors: cursors, signers: signers, logger: logger}
}

// Name returns the cursor key of the source.
func (s *JetstreamSource) Name() string {
	return s.name
}

// Resume returns the stored cursor, or zero to start live.
func (s *JetstreamSource) Resume(ctx context.Context) (int64, error) {
	raw, err := s.cursors.LoadCursor(ctx, s.name)
	if err != nil {
		return 0, fmt.Errorf("%w: load cursor %s: %w", ErrStorage, s.name, err)
	}
	if raw == "" {
		return 0, nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.WarnContext(ctx, "stored jetstream cursor unreadable, starting live",
			"source", s.name,
			"cursor", raw,
		)
		return 0, nil
	}
	return cursor, nil
}

// HandleEvents implements jetstream.Handler.
func (s *JetstreamSource) HandleEvents(ctx context.Context, batch []jetstream.Event) error {
	events := make([]models.Event, 0, len(batch))
	var last int64
	for _, je := range batch {
		last = je.TimeUS
		switch je.Kind {
		case jetstream.KindCommit:
			if je.Commit == nil {
				continue
			}
			events = append(events, models.Event{
				Action:     models.Action(je.Commit.Operation),
				Owner:      je.DID,
				Collection: je.Commit.Collection,
				RecordKey:  je.Commit.RKey,
				CommitCID:  je.Commit.CID,
				Record:     je.Commit.Record,
				Source:     s.name,
				Cursor:     strconv.FormatInt(je.TimeUS, 10),
			})
		case jetstream.KindIdentity, jetstream.KindAccount:
			s.identityChanged(ctx, je.DID)
		}
	}

	if err := s.next.DispatchBatch(ctx, events); err != nil {
		return err
	}
	if last == 0 {
		return nil
	}
	if err := s.cursors.SaveCursor(ctx, s.name, strconv.FormatInt(last, 10)); err != nil {
		return fmt.Errorf("%w: save cursor %s: %w", ErrStorage, s.name, err)
	}
	return nil
}

func (s *JetstreamSource) identityChanged(ctx context.Context, did string) {
	if s.signers == nil || did == "" {
		return
	}
	n, err := s.signers.ReverifySigner(ctx, did)
	if err != nil {
		s.logger.WarnContext(ctx, "reverify after identity change failed", "did", did, "error", err)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "identity changed, claims requeued", "did", did, "claims", n)
	}
}
