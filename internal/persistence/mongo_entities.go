package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/tickflow/pkg/api"
)

// MongoEntityReader reads contacts and deals owned by the surrounding CRM
// from the "contacts" and "deals" collections.
type MongoEntityReader struct {
	contacts *mongo.Collection
	deals    *mongo.Collection
}

var _ api.EntityReader = (*MongoEntityReader)(nil)

func NewMongoEntityReader(db *mongo.Database) *MongoEntityReader {
	return &MongoEntityReader{
		contacts: db.Collection("contacts"),
		deals:    db.Collection("deals"),
	}
}

func (r *MongoEntityReader) GetEntity(ctx context.Context, tenantID string, typ api.EntityType, id string) (*api.Entity, error) {
	var coll *mongo.Collection
	switch typ {
	case api.EntityContact:
		coll = r.contacts
	case api.EntityDeal:
		coll = r.deals
	default:
		return nil, fmt.Errorf("unknown entity type %q", typ)
	}

	var e api.Entity
	if err := coll.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&e); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrEntityNotFound
		}
		return nil, err
	}
	e.Type = typ
	if e.Fields != nil {
		e.Fields, _ = normalizeBSON(e.Fields).(map[string]any)
	}
	return &e, nil
}
