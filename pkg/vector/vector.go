package vector

import (
	"context"
	"fmt"

	"github.com/fridayops/friday/pkg/config"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"
)

// Payload keys mirrored from the relational entity so queries can filter
// before similarity ranking.
const (
	PayloadKind    = "kind"
	PayloadProject = "project"
	PayloadFeature = "feature"
	PayloadStatus  = "status"
	PayloadTags    = "tags"
	PayloadPGID    = "pg_id"
	PayloadTitle   = "title"
	PayloadText    = "text"
)

// Entity kinds stored in the collection.
const (
	KindReport   = "report"
	KindScenario = "scenario"
	KindStep     = "step"
	KindBuild    = "build"
	KindFeature  = "feature"
)

// Hit is one similarity search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter restricts similarity search to matching payload values.
// Zero-valued fields are not applied.
type Filter struct {
	Project string
	Kind    string
	Tags    []string
}

// Store embeds and indexes text representations of test entities for
// similarity search.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	Upsert(ctx context.Context, text string, payload map[string]any) (string, error)
	Query(ctx context.Context, text string, f Filter, limit int) ([]Hit, error)
}

// Compile-time interface check.
var _ Store = (*qdrantStore)(nil)

type qdrantStore struct {
	log      logrus.FieldLogger
	cfg      *config.VectorConfig
	embedder Embedder
	client   *qdrant.Client
}

// NewStore creates a Qdrant-backed vector Store.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.VectorConfig,
	embedder Embedder,
) Store {
	return &qdrantStore{
		log:      log.WithField("component", "vectorstore"),
		cfg:      cfg,
		embedder: embedder,
	}
}

// Start connects to Qdrant and ensures the collection exists. Safe to
// call once at process start; creation is skipped when the collection
// is already present.
func (q *qdrantStore) Start(ctx context.Context) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   q.cfg.Host,
		Port:   q.cfg.Port,
		APIKey: q.cfg.APIKey,
		UseTLS: q.cfg.UseTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to qdrant: %w", err)
	}

	q.client = client

	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}

	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}

		q.log.WithField("collection", q.cfg.Collection).
			Info("Created vector collection")
	}

	q.log.WithField("collection", q.cfg.Collection).
		Info("Vector store connected")

	return nil
}

// Stop closes the Qdrant connection.
func (q *qdrantStore) Stop() error {
	if q.client == nil {
		return nil
	}

	return q.client.Close()
}

// Upsert embeds text and stores it with the given payload, returning
// the generated point id.
func (q *qdrantStore) Upsert(
	ctx context.Context, text string, payload map[string]any,
) (string, error) {
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embedding for upsert: %w", err)
	}

	id := uuid.NewString()

	if payload == nil {
		payload = map[string]any{}
	}

	payload[PayloadText] = text

	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(id),
				Vectors: qdrant.NewVectors(vec...),
				Payload: qdrant.NewValueMap(payload),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("upserting point: %w", err)
	}

	return id, nil
}

// Query performs nearest-neighbor search with optional metadata filters,
// ordered by descending similarity score.
func (q *qdrantStore) Query(
	ctx context.Context, text string, f Filter, limit int,
) ([]Hit, error) {
	vec, err := q.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(f),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	hits := make([]Hit, 0, len(points))

	for _, p := range points {
		hits = append(hits, Hit{
			ID:      p.Id.GetUuid(),
			Score:   p.Score,
			Payload: decodePayload(p.Payload),
		})
	}

	return hits, nil
}

// buildFilter translates a Filter into Qdrant match conditions.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.Project != "" {
		must = append(must, qdrant.NewMatch(PayloadProject, f.Project))
	}

	if f.Kind != "" {
		must = append(must, qdrant.NewMatch(PayloadKind, f.Kind))
	}

	for _, tag := range f.Tags {
		must = append(must, qdrant.NewMatch(PayloadTags, tag))
	}

	if len(must) == 0 {
		return nil
	}

	return &qdrant.Filter{Must: must}
}

// decodePayload converts a Qdrant payload into plain Go values.
func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))

	for k, v := range payload {
		out[k] = decodeValue(v)
	}

	return out
}

func decodeValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, decodeValue(item))
		}

		return items
	case *qdrant.Value_StructValue:
		return decodePayload(kind.StructValue.GetFields())
	default:
		return nil
	}
}
