package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoJobStore is a JobStore backed by a MongoDB collection, for
// deployments that need job history to survive process restarts without
// adopting the full relational schema the boundary store owns. Grounded on
// the teacher's features/run/mongo and features/session/mongo client wiring
// (one *mongo.Collection per store, upsert-by-id semantics).
type MongoJobStore struct {
	coll *mongo.Collection
}

// NewMongoJobStore constructs a JobStore over the given collection.
func NewMongoJobStore(coll *mongo.Collection) *MongoJobStore {
	return &MongoJobStore{coll: coll}
}

// Save upserts a job document keyed by _id = rec.ID.
func (s *MongoJobStore) Save(ctx context.Context, rec JobRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID}, mongoJobDoc(rec), opts)
	return err
}

// Get returns the job document for id.
func (s *MongoJobStore) Get(ctx context.Context, id string) (JobRecord, error) {
	var doc jobDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return JobRecord{}, ErrNotFound
	}
	if err != nil {
		return JobRecord{}, err
	}
	return doc.toRecord(), nil
}

// List returns every job document in the collection.
func (s *MongoJobStore) List(ctx context.Context) ([]JobRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []JobRecord
	for cur.Next(ctx) {
		var doc jobDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
}

type jobDoc struct {
	ID          string         `bson:"_id"`
	Type        string         `bson:"type"`
	Status      string         `bson:"status"`
	CreatedAt   int64          `bson:"created_at"`
	StartedAt   *int64         `bson:"started_at,omitempty"`
	CompletedAt *int64         `bson:"completed_at,omitempty"`
	Success     *bool          `bson:"success,omitempty"`
	Message     string         `bson:"message,omitempty"`
	Data        map[string]any `bson:"data,omitempty"`
	Outputs     []string       `bson:"outputs,omitempty"`
	Error       string         `bson:"error,omitempty"`
}

func mongoJobDoc(rec JobRecord) jobDoc {
	doc := jobDoc{
		ID:      rec.ID,
		Type:    rec.Type,
		Status:  rec.Status,
		Message: rec.Message,
		Outputs: rec.Outputs,
		Error:   rec.Error,
	}
	if data, ok := rec.Data.(map[string]any); ok {
		doc.Data = data
	}
	doc.CreatedAt = rec.CreatedAt.Unix()
	if rec.StartedAt != nil {
		v := rec.StartedAt.Unix()
		doc.StartedAt = &v
	}
	if rec.CompletedAt != nil {
		v := rec.CompletedAt.Unix()
		doc.CompletedAt = &v
	}
	doc.Success = rec.Success
	return doc
}

func (d jobDoc) toRecord() JobRecord {
	rec := JobRecord{
		ID:      d.ID,
		Type:    d.Type,
		Status:  d.Status,
		Message: d.Message,
		Data:    d.Data,
		Outputs: d.Outputs,
		Error:   d.Error,
		Success: d.Success,
	}
	return rec
}

// MongoEventLogStore is an EventLogStore backed by a MongoDB collection,
// append-only by construction (InsertOne, never update/delete).
type MongoEventLogStore struct {
	coll *mongo.Collection
}

// NewMongoEventLogStore constructs an EventLogStore over the given
// collection.
func NewMongoEventLogStore(coll *mongo.Collection) *MongoEventLogStore {
	return &MongoEventLogStore{coll: coll}
}

// Append inserts one event log document.
func (s *MongoEventLogStore) Append(ctx context.Context, rec EventLogRecord) error {
	_, err := s.coll.InsertOne(ctx, bson.M{
		"_id":         rec.ID,
		"handler":     rec.HandlerName,
		"trigger":     rec.Trigger,
		"result":      rec.Result,
		"created_at":  rec.CreatedAt.Unix(),
	})
	return err
}

// List returns every row for trigger, or every row if trigger is empty.
func (s *MongoEventLogStore) List(ctx context.Context, trigger string) ([]EventLogRecord, error) {
	filter := bson.M{}
	if trigger != "" {
		filter["trigger"] = trigger
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []EventLogRecord
	for cur.Next(ctx) {
		var doc struct {
			ID      string `bson:"_id"`
			Handler string `bson:"handler"`
			Trigger string `bson:"trigger"`
			Result  any    `bson:"result"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, EventLogRecord{ID: doc.ID, HandlerName: doc.Handler, Trigger: doc.Trigger, Result: doc.Result})
	}
	return out, cur.Err()
}

// MongoCheckpointStore is a CheckpointStore backed by a MongoDB collection,
// an alternate to RedisCheckpointStore for deployments that already run
// Mongo for job/event-log persistence and would rather not add Redis just
// for watcher checkpoints. Documents are upserted keyed by watcher name +
// external key, mirroring MongoJobStore's upsert-by-id shape.
type MongoCheckpointStore struct {
	coll *mongo.Collection
}

// NewMongoCheckpointStore constructs a CheckpointStore over the given
// collection.
func NewMongoCheckpointStore(coll *mongo.Collection) *MongoCheckpointStore {
	return &MongoCheckpointStore{coll: coll}
}

func checkpointDocID(watcherName, key string) string {
	return watcherName + ":" + key
}

// Save upserts the checkpoint document for cp.WatcherName/cp.Key.
func (s *MongoCheckpointStore) Save(ctx context.Context, cp WatcherCheckpoint) error {
	opts := options.Replace().SetUpsert(true)
	doc := bson.M{
		"_id":        checkpointDocID(cp.WatcherName, cp.Key),
		"watcher":    cp.WatcherName,
		"key":        cp.Key,
		"state":      cp.State,
		"last_check": cp.LastCheck.Unix(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": checkpointDocID(cp.WatcherName, cp.Key)}, doc, opts)
	return err
}

// Load returns the checkpoint document for watcherName/key.
func (s *MongoCheckpointStore) Load(ctx context.Context, watcherName, key string) (WatcherCheckpoint, error) {
	var doc struct {
		Watcher   string         `bson:"watcher"`
		Key       string         `bson:"key"`
		State     map[string]any `bson:"state"`
		LastCheck int64          `bson:"last_check"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": checkpointDocID(watcherName, key)}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return WatcherCheckpoint{}, ErrNotFound
	}
	if err != nil {
		return WatcherCheckpoint{}, err
	}
	return WatcherCheckpoint{WatcherName: doc.Watcher, Key: doc.Key, State: doc.State, LastCheck: time.Unix(doc.LastCheck, 0)}, nil
}

// MongoNotificationStore is a NotificationStore backed by a MongoDB
// collection, the durable counterpart to DatabaseNotificationService's
// notifications table in the original, append-only by construction.
type MongoNotificationStore struct {
	coll *mongo.Collection
}

// NewMongoNotificationStore constructs a NotificationStore over the given
// collection.
func NewMongoNotificationStore(coll *mongo.Collection) *MongoNotificationStore {
	return &MongoNotificationStore{coll: coll}
}

// Append inserts one notification document.
func (s *MongoNotificationStore) Append(ctx context.Context, rec NotificationRecord) error {
	_, err := s.coll.InsertOne(ctx, bson.M{
		"_id":        rec.ID,
		"message":    rec.Message,
		"created_at": rec.CreatedAt.Unix(),
	})
	return err
}

// List returns every notification document, in whatever order the
// collection's natural cursor yields them.
func (s *MongoNotificationStore) List(ctx context.Context) ([]NotificationRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []NotificationRecord
	for cur.Next(ctx) {
		var doc struct {
			ID        string `bson:"_id"`
			Message   string `bson:"message"`
			CreatedAt int64  `bson:"created_at"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, NotificationRecord{ID: doc.ID, Message: doc.Message, CreatedAt: time.Unix(doc.CreatedAt, 0)})
	}
	return out, cur.Err()
}
