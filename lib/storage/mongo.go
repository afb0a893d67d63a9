/*
 * Keyserver
 * Copyright (C) 2026  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package storage

import (
	"context"
	"log/slog"

	"github.com/gravitational/trace"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/gravitational/keyserver"
	"github.com/gravitational/keyserver/lib/defaults"
	"github.com/gravitational/keyserver/lib/types"
)

// MongoConfig holds the connection parameters of the Mongo store.
type MongoConfig struct {
	// URI is the mongodb:// connection string.
	URI string
	// Username and Password override URI credentials when set.
	Username string
	Password string
	// Database is the database name, defaults.MongoDatabase when empty.
	Database string
	// Logger emits structured store logs.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *MongoConfig) CheckAndSetDefaults() error {
	if c.URI == "" {
		return trace.BadParameter("missing mongo URI")
	}
	if c.Database == "" {
		c.Database = defaults.MongoDatabase
	}
	if c.Logger == nil {
		c.Logger = slog.With(keyserver.ComponentKey, keyserver.ComponentStorage)
	}
	return nil
}

// Mongo is the production Store implementation.
type Mongo struct {
	client   *mongo.Client
	keys     *mongo.Collection
	bindings *mongo.Collection
	logger   *slog.Logger
}

// NewMongo connects to the configured deployment, verifies the
// connection and ensures the indexes the service relies on. The unique
// index on the key id is what makes concurrent submits of the same key
// resolve to exactly one persisted record.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	ctx, cancel := context.WithTimeout(ctx, defaults.MongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to connect to mongo at %v", cfg.URI)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, trace.ConnectionProblem(err, "failed to ping mongo at %v", cfg.URI)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:   client,
		keys:     db.Collection(KeysCollection),
		bindings: db.Collection(BindingsCollection),
		logger:   cfg.Logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	m.logger.InfoContext(ctx, "Connected to mongo", "database", cfg.Database)
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.keys.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "keyId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "keyIdShort", Value: 1}}},
		{Keys: bson.D{{Key: "fingerprint", Value: 1}}},
	})
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = m.bindings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "keyId", Value: 1}}},
		{Keys: bson.D{{Key: "email", Value: 1}}},
		{Keys: bson.D{{Key: "keyId", Value: 1}, {Key: "nonce", Value: 1}}},
	})
	return trace.Wrap(err)
}

// CreateKey implements Store.
func (m *Mongo) CreateKey(ctx context.Context, key types.KeyRecord) error {
	_, err := m.keys.InsertOne(ctx, key)
	if mongo.IsDuplicateKeyError(err) {
		return trace.AlreadyExists("key %v already exists", key.KeyID)
	}
	return trace.Wrap(err)
}

// GetKey implements Store.
func (m *Mongo) GetKey(ctx context.Context, f KeyFilter) (*types.KeyRecord, error) {
	var key types.KeyRecord
	err := m.keys.FindOne(ctx, keyFilter(f)).Decode(&key)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("no key matches the query")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &key, nil
}

// ListKeys implements Store.
func (m *Mongo) ListKeys(ctx context.Context, f KeyFilter) ([]types.KeyRecord, error) {
	cursor, err := m.keys.Find(ctx, keyFilter(f))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var keys []types.KeyRecord
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, trace.Wrap(err)
	}
	return keys, nil
}

// DeleteKeys implements Store.
func (m *Mongo) DeleteKeys(ctx context.Context, f KeyFilter) error {
	_, err := m.keys.DeleteMany(ctx, keyFilter(f))
	return trace.Wrap(err)
}

// CreateBindings implements Store. The insert is ordered; on failure
// the error reports how many documents were persisted so the caller
// can compensate.
func (m *Mongo) CreateBindings(ctx context.Context, bindings []types.UserIDBinding) error {
	docs := make([]any, 0, len(bindings))
	for _, b := range bindings {
		docs = append(docs, b)
	}
	res, err := m.bindings.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		return trace.WrapWithMessage(err, "persisted %d of %d user ID bindings", inserted, len(bindings))
	}
	return nil
}

// GetBinding implements Store.
func (m *Mongo) GetBinding(ctx context.Context, f BindingFilter) (*types.UserIDBinding, error) {
	var binding types.UserIDBinding
	err := m.bindings.FindOne(ctx, bindingFilter(f)).Decode(&binding)
	if err == mongo.ErrNoDocuments {
		return nil, trace.NotFound("no user ID binding matches the query")
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &binding, nil
}

// ListBindings implements Store.
func (m *Mongo) ListBindings(ctx context.Context, f BindingFilter) ([]types.UserIDBinding, error) {
	cursor, err := m.bindings.Find(ctx, bindingFilter(f))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var bindings []types.UserIDBinding
	if err := cursor.All(ctx, &bindings); err != nil {
		return nil, trace.Wrap(err)
	}
	return bindings, nil
}

// UpdateBindings implements Store. The patch is applied in a single
// UpdateMany, atomic per document for concurrent readers.
func (m *Mongo) UpdateBindings(ctx context.Context, f BindingFilter, p BindingPatch) (int64, error) {
	set := bson.M{}
	unset := bson.M{}
	if p.Verified != nil {
		set["verified"] = *p.Verified
	}
	if p.Nonce != nil {
		if *p.Nonce == "" {
			unset["nonce"] = ""
		} else {
			set["nonce"] = *p.Nonce
		}
	}
	update := bson.M{}
	if len(set) != 0 {
		update["$set"] = set
	}
	if len(unset) != 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return 0, trace.BadParameter("empty binding patch")
	}
	res, err := m.bindings.UpdateMany(ctx, bindingFilter(f), update)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return res.MatchedCount, nil
}

// DeleteBindings implements Store.
func (m *Mongo) DeleteBindings(ctx context.Context, f BindingFilter) error {
	_, err := m.bindings.DeleteMany(ctx, bindingFilter(f))
	return trace.Wrap(err)
}

// Ping implements Store.
func (m *Mongo) Ping(ctx context.Context) error {
	return trace.Wrap(m.client.Ping(ctx, readpref.Primary()))
}

// Close implements Store.
func (m *Mongo) Close(ctx context.Context) error {
	return trace.Wrap(m.client.Disconnect(ctx))
}

func keyFilter(f KeyFilter) bson.M {
	filter := bson.M{}
	if f.KeyID != "" {
		filter["keyId"] = f.KeyID
	}
	if f.ShortKeyID != "" {
		filter["keyIdShort"] = f.ShortKeyID
	}
	if f.Fingerprint != "" {
		filter["fingerprint"] = f.Fingerprint
	}
	return filter
}

func bindingFilter(f BindingFilter) bson.M {
	filter := bson.M{}
	if f.ID != "" {
		filter["_id"] = f.ID
	}
	if f.KeyID != "" {
		filter["keyId"] = f.KeyID
	}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	if f.Nonce != "" {
		filter["nonce"] = f.Nonce
	}
	if f.Verified != nil {
		filter["verified"] = *f.Verified
	}
	if f.ExcludeID != "" && f.ID == "" {
		filter["_id"] = bson.M{"$ne": f.ExcludeID}
	}
	return filter
}
