package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/model"
)

const opTimeout = 3 * time.Second

// MongoStore persists messages in a messages collection and keeps one
// counter document per conversation for sequence assignment.
type MongoStore struct {
	msgColl     *mongo.Collection
	counterColl *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	s := &MongoStore{
		msgColl:     db.Collection("messages"),
		counterColl: db.Collection("conversation_counters"),
	}
	_, _ = s.msgColl.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("conversation_seq_idx"),
	})
	return s
}

// nextSeq atomically increments and returns the conversation's sequence
// counter; the $inc on a single document is what serializes concurrent
// appends to the same conversation.
func (s *MongoStore) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	res := s.counterColl.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *MongoStore) Append(ctx context.Context, conversationID, senderID, content string, typ model.MessageType) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	seq, err := s.nextSeq(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	m := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           typ,
		Seq:            seq,
		CreatedAt:      time.Now().UTC(),
		Status:         model.StatusSent,
		DeliveredTo:    map[string]time.Time{},
		ReadBy:         map[string]time.Time{},
	}
	if _, err := s.msgColl.InsertOne(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *MongoStore) ListSince(ctx context.Context, conversationID string, afterSeq int64) ([]*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID, "seq": bson.M{"$gt": afterSeq}}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) History(ctx context.Context, conversationID string, beforeSeq, limit int64) ([]*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"conversation_id": conversationID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(limit)
	out, err := s.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	// newest-first page, returned chronological
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Message, error) {
	cur, err := s.msgColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*model.Message{}
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		normalize(&m)
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (s *MongoStore) Get(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m model.Message
	if err := s.msgColl.FindOne(ctx, bson.M{"_id": messageID}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.ErrMessageNotFound
		}
		return nil, err
	}
	normalize(&m)
	return &m, nil
}

func (s *MongoStore) RecordDelivery(ctx context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error) {
	return s.record(ctx, messageID, "delivered_to."+recipientID, at)
}

func (s *MongoStore) RecordRead(ctx context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error) {
	return s.record(ctx, messageID, "read_by."+recipientID, at)
}

// record stamps field = at only when no stamp exists or the existing one
// is older, which makes retried acknowledgements idempotent and keeps the
// stamp last-writer-wins under the timestamp order.
func (s *MongoStore) record(ctx context.Context, messageID, field string, at time.Time) (*model.Message, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"_id": messageID,
		"$or": []bson.M{
			{field: bson.M{"$exists": false}},
			{field: bson.M{"$lt": at}},
		},
	}
	res := s.msgColl.FindOneAndUpdate(ctx, filter,
		bson.M{"$set": bson.M{field: at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m model.Message
	err := res.Decode(&m)
	if err == nil {
		normalize(&m)
		return &m, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}
	// either the message is unknown or the stamp was newer; disambiguate
	current, gerr := s.Get(ctx, messageID)
	if gerr != nil {
		return nil, false, gerr
	}
	return current, false, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, messageID string, st model.Status) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var below []model.Status
	switch st {
	case model.StatusDelivered:
		below = []model.Status{model.StatusSent}
	case model.StatusRead:
		below = []model.Status{model.StatusSent, model.StatusDelivered}
	default:
		return nil
	}
	_, err := s.msgColl.UpdateOne(ctx,
		bson.M{"_id": messageID, "status": bson.M{"$in": below}},
		bson.M{"$set": bson.M{"status": st}},
	)
	return err
}

func (s *MongoStore) UnreadSince(ctx context.Context, conversationID, userID string, afterSeq int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.msgColl.CountDocuments(ctx, bson.M{
		"conversation_id":  conversationID,
		"seq":              bson.M{"$gt": afterSeq},
		"sender_id":        bson.M{"$ne": userID},
		"read_by." + userID: bson.M{"$exists": false},
	})
}

func (s *MongoStore) MaxSeq(ctx context.Context, conversationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res := s.counterColl.FindOne(ctx, bson.M{"_id": conversationID})
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Seq, nil
}

func (s *MongoStore) ListUnreadBy(ctx context.Context, conversationID, userID string, upToSeq int64) ([]*model.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"conversation_id":  conversationID,
		"seq":              bson.M{"$lte": upToSeq},
		"sender_id":        bson.M{"$ne": userID},
		"read_by." + userID: bson.M{"$exists": false},
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	return s.find(ctx, filter, opts)
}

func (s *MongoStore) PurgeConversations(ctx context.Context, conversationIDs []string) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.msgColl.DeleteMany(ctx, bson.M{"conversation_id": bson.M{"$in": conversationIDs}}); err != nil {
		return err
	}
	_, err := s.counterColl.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": conversationIDs}})
	return err
}

func normalize(m *model.Message) {
	if m.DeliveredTo == nil {
		m.DeliveredTo = map[string]time.Time{}
	}
	if m.ReadBy == nil {
		m.ReadBy = map[string]time.Time{}
	}
}
