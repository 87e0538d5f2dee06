package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// OutcomesCollection is the root collection holding one document per session.
const OutcomesCollection = "courier_outcomes"

// OutcomeStore implements dispatch.OutcomeStore using Google Cloud Firestore.
type OutcomeStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewOutcomeStore(client *firestore.Client, logger *slog.Logger) *OutcomeStore {
	return &OutcomeStore{
		client: client,
		logger: logger.With("component", "FirestoreOutcomeStore"),
	}
}

// outcomeDoc is the stored representation. The payload is kept as JSON text
// so the document stays readable in the console.
type outcomeDoc struct {
	SessionID string    `firestore:"session_id"`
	Owner     string    `firestore:"owner"`
	Operation string    `firestore:"operation"`
	Channel   string    `firestore:"channel"`
	Payload   string    `firestore:"payload"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (s *OutcomeStore) Save(ctx context.Context, record dispatch.OutcomeRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("outcome record has no session id")
	}
	doc := outcomeDoc{
		SessionID: record.SessionID,
		Owner:     record.Owner.String(),
		Operation: record.Envelope.Operation,
		Channel:   record.Envelope.Channel,
		Payload:   string(record.Envelope.Payload),
		CreatedAt: record.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := s.client.Collection(OutcomesCollection).Doc(record.SessionID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to save outcome %s: %w", record.SessionID, err)
	}
	return nil
}

func (s *OutcomeStore) Fetch(ctx context.Context, sessionID string) (*dispatch.OutcomeRecord, error) {
	snap, err := s.client.Collection(OutcomesCollection).Doc(sessionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, dispatch.ErrOutcomeNotFound
		}
		return nil, fmt.Errorf("failed to fetch outcome %s: %w", sessionID, err)
	}

	var doc outcomeDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode outcome %s: %w", sessionID, err)
	}
	return doc.toRecord()
}

// ListByOwner returns the owner's most recent outcomes, newest first.
func (s *OutcomeStore) ListByOwner(ctx context.Context, owner urn.URN, limit int) ([]dispatch.OutcomeRecord, error) {
	query := s.client.Collection(OutcomesCollection).
		Where("owner", "==", owner.String()).
		OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	records := make([]dispatch.OutcomeRecord, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc outcomeDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("Skipping unreadable outcome document", "doc_id", snap.Ref.ID, "err", err)
			continue
		}
		record, err := doc.toRecord()
		if err != nil {
			s.logger.Warn("Skipping invalid outcome document", "doc_id", snap.Ref.ID, "err", err)
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

func (d outcomeDoc) toRecord() (*dispatch.OutcomeRecord, error) {
	owner, err := urn.Parse(d.Owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner %q: %w", d.Owner, err)
	}
	if !json.Valid([]byte(d.Payload)) {
		return nil, fmt.Errorf("payload of %s is not valid JSON", d.SessionID)
	}
	return &dispatch.OutcomeRecord{
		SessionID: d.SessionID,
		Owner:     owner,
		Envelope: courier.Envelope{
			Operation: d.Operation,
			Channel:   d.Channel,
			Payload:   json.RawMessage(d.Payload),
		},
		CreatedAt: d.CreatedAt,
	}, nil
}
