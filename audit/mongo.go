package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// DefaultMongoCollection MongoStorage 默认集合名
const DefaultMongoCollection = "audit_logs"

// mongoDocument audit_logs 集合中的文档
type mongoDocument struct {
	Key          string    `bson:"_id"`
	LogID        string    `bson:"logId"`
	Timestamp    time.Time `bson:"timestamp"`
	TimestampNs  int64     `bson:"timestampNs"`
	ActorID      string    `bson:"actorId"`
	ActorType    string    `bson:"actorType"`
	Operation    string    `bson:"operation"`
	ResourceType string    `bson:"resourceType"`
	ResourceID   string    `bson:"resourceId"`
	Result       string    `bson:"result"`
	Payload      string    `bson:"payload"`
}

// MongoStorage stores audit logs in a MongoDB collection keyed by storage key.
type MongoStorage struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStorage creates a storage on coll.
func NewMongoStorage(coll *mongo.Collection, logger *zap.Logger) *MongoStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStorage{
		coll:   coll,
		logger: logger.With(zap.String("component", "mongo_audit_storage")),
	}
}

// EnsureIndexes creates the time and filter indexes.
func (s *MongoStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestampNs", Value: 1}}},
		{Keys: bson.D{{Key: "actorId", Value: 1}, {Key: "timestampNs", Value: 1}}},
		{Keys: bson.D{{Key: "resourceType", Value: 1}, {Key: "resourceId", Value: 1}}},
		{Keys: bson.D{{Key: "operation", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// Append 插入一个文档
func (s *MongoStorage) Append(ctx context.Context, key string, value []byte) error {
	log, err := decodeLog(value)
	if err != nil {
		return err
	}
	doc := mongoDocument{
		Key:          key,
		LogID:        log.LogID,
		Timestamp:    log.Timestamp.UTC(),
		TimestampNs:  log.Timestamp.UnixNano(),
		ActorID:      log.ActorID,
		ActorType:    string(log.ActorType),
		Operation:    log.Operation,
		ResourceType: log.ResourceType,
		ResourceID:   log.ResourceID,
		Result:       string(log.Result),
		Payload:      string(value),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Query 按 timestampNs 升序返回区间内匹配的日志
func (s *MongoStorage) Query(ctx context.Context, start, end time.Time, filters *Filters) ([][]byte, error) {
	filter := mongoFilter(filters)
	filter["timestampNs"] = bson.M{"$gte": start.UnixNano(), "$lte": end.UnixNano()}

	cursor, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "timestampNs", Value: 1}}).
		SetProjection(bson.M{"payload": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	var docs []mongoDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}
	out := make([][]byte, len(docs))
	for i, d := range docs {
		out[i] = []byte(d.Payload)
	}
	return out, nil
}

// Count 返回匹配的文档数
func (s *MongoStorage) Count(ctx context.Context, filters *Filters) (int, error) {
	n, err := s.coll.CountDocuments(ctx, mongoFilter(filters))
	if err != nil {
		return 0, fmt.Errorf("failed to count audit logs: %w", err)
	}
	return int(n), nil
}

// mongoFilter 将过滤条件转换为查询文档
func mongoFilter(f *Filters) bson.M {
	filter := bson.M{}
	if f == nil {
		return filter
	}
	if f.ActorID != "" {
		filter["actorId"] = f.ActorID
	}
	if f.ActorType != "" {
		filter["actorType"] = string(f.ActorType)
	}
	if f.Operation != "" {
		filter["operation"] = f.Operation
	}
	if f.ResourceType != "" {
		filter["resourceType"] = f.ResourceType
	}
	if f.ResourceID != "" {
		filter["resourceId"] = f.ResourceID
	}
	if f.Result != "" {
		filter["result"] = string(f.Result)
	}
	return filter
}
