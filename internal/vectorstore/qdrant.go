package vectorstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Qdrant talks to a Qdrant server over its gRPC API.
type Qdrant struct {
	conn   *grpc.ClientConn
	points qdrant.PointsClient
	health qdrant.QdrantClient
	apiKey string
	logger *slog.Logger
}

// NewQdrant dials the configured endpoint. The connection is established
// lazily on the first call.
func NewQdrant(cfg config.QdrantConfig) (*Qdrant, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(cfg.Addr(), grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant %s: %w", cfg.Addr(), err)
	}
	return NewQdrantFromConn(conn, cfg.APIKey), nil
}

// NewQdrantFromConn wraps an existing connection. Close closes conn.
func NewQdrantFromConn(conn *grpc.ClientConn, apiKey string) *Qdrant {
	return &Qdrant{
		conn:   conn,
		points: qdrant.NewPointsClient(conn),
		health: qdrant.NewQdrantClient(conn),
		apiKey: apiKey,
		logger: slog.Default().With("component", "qdrant"),
	}
}

func (q *Qdrant) Retrieve(ctx context.Context, collection string, ids []uint64) (map[uint64]Payload, error) {
	out := make(map[uint64]Payload, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, numericID(id))
	}
	resp, err := q.points.Get(q.withAuth(ctx), &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, storeError("retrieve", collection, err)
	}
	for _, point := range resp.GetResult() {
		out[point.GetId().GetNum()] = FromQdrantPayload(point.GetPayload())
	}
	q.logger.Debug("payloads retrieved", "collection", collection, "requested", len(ids), "found", len(out))
	return out, nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		payload, err := ToQdrantPayload(rec.Payload)
		if err != nil {
			return storeError("upsert", collection, fmt.Errorf("point %d: %w", rec.ID, err))
		}
		points = append(points, &qdrant.PointStruct{
			Id:      numericID(rec.ID),
			Payload: payload,
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: rec.Vector}}},
		})
	}
	wait := true
	_, err := q.points.Upsert(q.withAuth(ctx), &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return storeError("upsert", collection, err)
	}
	q.logger.Debug("points upserted", "collection", collection, "count", len(points))
	return nil
}

func (q *Qdrant) Ping(ctx context.Context) error {
	_, err := q.health.HealthCheck(q.withAuth(ctx), &qdrant.HealthCheckRequest{})
	return err
}

func (q *Qdrant) Close() error {
	return q.conn.Close()
}

func (q *Qdrant) withAuth(ctx context.Context) context.Context {
	if q.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", q.apiKey)
}

func numericID(id uint64) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: id}}
}

// FromQdrantPayload converts a gRPC payload into plain Go values: integers
// become int64, doubles float64, lists []any and structs map[string]any.
func FromQdrantPayload(payload map[string]*qdrant.Value) Payload {
	out := make(Payload, len(payload))
	for k, v := range payload {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *qdrant.Value) any {
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
		values := kind.ListValue.GetValues()
		list := make([]any, 0, len(values))
		for _, item := range values {
			list = append(list, fromValue(item))
		}
		return list
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for k, item := range fields {
			m[k] = fromValue(item)
		}
		return m
	default:
		return nil
	}
}

// ToQdrantPayload is the inverse of FromQdrantPayload. It also accepts the
// shapes JSON decoding produces (json.Number, float64, map[string]any).
func ToQdrantPayload(p Payload) (map[string]*qdrant.Value, error) {
	out := make(map[string]*qdrant.Value, len(p))
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := toValue(p[k])
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func toValue(v any) (*qdrant.Value, error) {
	switch x := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{NullValue: qdrant.NullValue_NULL_VALUE}}, nil
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: x}}, nil
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: x}}, nil
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(x)}}, nil
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(x)}}, nil
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: x}}, nil
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(x)}}, nil
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: x}}, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}, nil
	case []string:
		values := make([]*qdrant.Value, 0, len(x))
		for _, s := range x {
			values = append(values, &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}})
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}, nil
	case []any:
		values := make([]*qdrant.Value, 0, len(x))
		for _, item := range x {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			values = append(values, val)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}, nil
	case map[string]any:
		fields := make(map[string]*qdrant.Value, len(x))
		for k, item := range x {
			val, err := toValue(item)
			if err != nil {
				return nil, err
			}
			fields[k] = val
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}, nil
	case Payload:
		return toValue(map[string]any(x))
	default:
		return nil, fmt.Errorf("unsupported payload value of type %T", v)
	}
}

var _ Client = (*Qdrant)(nil)
