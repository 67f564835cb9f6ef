package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
)

// System databases excluded from listings and cleanup.
var systemDatabases = map[string]bool{
	"admin":  true,
	"local":  true,
	"config": true,
}

// GetDatabases lists the non-system databases.
func (a *Adapter) GetDatabases(ctx context.Context) ([]model.DatabaseInfo, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}
	names, err := client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.DatabaseInfo, 0, len(names))
	for _, n := range names {
		if systemDatabases[n] {
			continue
		}
		out = append(out, model.DatabaseInfo{Name: n})
	}
	return out, nil
}

// GetTables lists the collections of a database.
func (a *Adapter) GetTables(ctx context.Context, database string) ([]model.TableInfo, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}
	if database == "" {
		a.mu.Lock()
		database = a.defaultDB
		a.mu.Unlock()
	}
	names, err := client.Database(database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", errors.New(adapter.Redact(err.Error())))
	}
	out := make([]model.TableInfo, len(names))
	for i, n := range names {
		out[i] = model.TableInfo{Name: n, Type: "collection"}
	}
	return out, nil
}

// GetColumns infers a field listing by sampling documents: the union of
// top-level keys, typed from the first document defining each key. Every
// field except _id is reported nullable since documents may omit it.
func (a *Adapter) GetColumns(ctx context.Context, database, object string) ([]model.ColumnInfo, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}
	if database == "" {
		a.mu.Lock()
		database = a.defaultDB
		a.mu.Unlock()
	}

	sample := a.sampleSize
	if sample <= 0 {
		sample = 100
	}
	cursor, err := client.Database(database).Collection(object).
		Find(ctx, bson.D{}, options.Find().SetLimit(int64(sample)).SetMaxTime(a.queryTimeout))
	if err != nil {
		return nil, fmt.Errorf("sample collection: %w", errors.New(adapter.Redact(err.Error())))
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("sample collection: %w", errors.New(adapter.Redact(err.Error())))
	}

	var order []string
	types := make(map[string]string)
	for _, doc := range docs {
		for _, e := range doc {
			if _, seen := types[e.Key]; !seen {
				order = append(order, e.Key)
				types[e.Key] = bsonTypeName(e.Value)
			}
		}
	}

	out := make([]model.ColumnInfo, len(order))
	for i, key := range order {
		out[i] = model.ColumnInfo{
			Name:       key,
			Type:       types[key],
			Nullable:   key != "_id",
			PrimaryKey: key == "_id",
		}
	}
	return out, nil
}

// CleanupDatabase drops one database.
func (a *Adapter) CleanupDatabase(ctx context.Context, database string) error {
	client := a.connection()
	if client == nil {
		return errNotConnected
	}
	if systemDatabases[database] {
		return fmt.Errorf("refusing to drop system database %q", database)
	}
	if err := client.Database(database).Drop(ctx); err != nil {
		return fmt.Errorf("drop database %s: %w", database, errors.New(adapter.Redact(err.Error())))
	}
	return nil
}

// DropAllUserDatabases drops every non-system database. Per-database
// failures are logged and skipped.
func (a *Adapter) DropAllUserDatabases(ctx context.Context) error {
	dbs, err := a.GetDatabases(ctx)
	if err != nil {
		return err
	}
	for _, d := range dbs {
		if err := a.CleanupDatabase(ctx, d.Name); err != nil {
			a.logger.Error("dropping database", "database", d.Name, "error", err)
			continue
		}
		a.logger.Info("dropped database", "database", d.Name)
	}
	return nil
}
