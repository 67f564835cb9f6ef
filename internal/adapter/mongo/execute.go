package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/mongoshell"
)

// Deprecated shell operations and the migration hint returned for each.
var deprecatedOps = map[string]string{
	"findAndModify": "findAndModify is deprecated; use findOneAndUpdate, findOneAndReplace, or findOneAndDelete",
	"group":         "group is deprecated; use aggregate with a $group stage",
	"mapReduce":     "mapReduce is deprecated; use aggregate",
	"insert":        "insert is deprecated; use insertOne or insertMany",
	"update":        "update is deprecated; use updateOne or updateMany",
	"remove":        "remove is deprecated; use deleteOne or deleteMany",
	"save":          "save is deprecated; use insertOne or replaceOne",
	"ensureIndex":   "ensureIndex is deprecated; use createIndex",
	"copyTo":        "copyTo is deprecated; use aggregate with a $out stage",
}

// ExecuteQuery parses one shell statement and dispatches it. database, when
// non-empty, overrides the connection's default database but not an explicit
// getSiblingDB in the statement.
func (a *Adapter) ExecuteQuery(ctx context.Context, query, database string, opts model.QueryOptions) (*model.QueryResult, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}

	parsed, err := mongoshell.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid MongoDB query: %w", err)
	}
	if msg, ok := deprecatedOps[parsed.Operation]; ok {
		return nil, errors.New(msg)
	}

	dbName := parsed.Database
	if dbName == "" {
		dbName = database
	}
	if dbName == "" {
		a.mu.Lock()
		dbName = a.defaultDB
		a.mu.Unlock()
	}

	ctx = a.opCtx(ctx)
	start := time.Now()

	var res *model.QueryResult
	switch parsed.Target {
	case mongoshell.TargetAdmin:
		res, err = a.runAdmin(ctx, parsed)
	case mongoshell.TargetDB:
		res, err = a.runDB(ctx, dbName, parsed, opts)
	default:
		res, err = a.runCollection(ctx, dbName, parsed, opts)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("query canceled: %w", ctx.Err())
		}
		return nil, errors.New(adapter.Redact(err.Error()))
	}
	res.ExecutionTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
	return res, nil
}

func (a *Adapter) runAdmin(ctx context.Context, q *mongoshell.Query) (*model.QueryResult, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}

	switch q.Operation {
	case "listDatabases":
		listing, err := client.ListDatabases(ctx, bson.D{})
		if err != nil {
			return nil, err
		}
		docs := make([]bson.D, len(listing.Databases))
		for i, db := range listing.Databases {
			docs[i] = bson.D{
				{Key: "name", Value: db.Name},
				{Key: "sizeOnDisk", Value: db.SizeOnDisk},
				{Key: "empty", Value: db.Empty},
			}
		}
		return docsResult(docs), nil

	case "stats", "serverStatus":
		var doc bson.D
		cmd := bson.D{{Key: "serverStatus", Value: 1}}
		if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&doc); err != nil {
			return nil, err
		}
		return docsResult([]bson.D{doc}), nil

	case "ping":
		var doc bson.D
		cmd := bson.D{{Key: "ping", Value: 1}}
		if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&doc); err != nil {
			return nil, err
		}
		return docsResult([]bson.D{doc}), nil
	}
	return nil, fmt.Errorf("unsupported admin operation %q", q.Operation)
}

func (a *Adapter) runDB(ctx context.Context, dbName string, q *mongoshell.Query, opts model.QueryOptions) (*model.QueryResult, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}
	db := client.Database(dbName)
	simulate := opts.DefaultConnection && !opts.AllowDestructive

	switch q.Operation {
	case "use":
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "database", Value: dbName}}), nil

	case "stats":
		var doc bson.D
		cmd := bson.D{{Key: "dbStats", Value: 1}}
		if err := db.RunCommand(ctx, cmd).Decode(&doc); err != nil {
			return nil, err
		}
		return docsResult([]bson.D{doc}), nil

	case "listDatabases":
		return a.runAdmin(ctx, &mongoshell.Query{Operation: "listDatabases"})

	case "dropDatabase":
		if simulate {
			return adapter.SimulatedResult("DROP DATABASE"), nil
		}
		if err := db.Drop(ctx); err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "dropped", Value: dbName}}), nil

	case "dropCollection":
		name, ok := firstStringArg(q.Args)
		if !ok {
			return nil, errors.New(`dropCollection requires a collection name, e.g. db.dropCollection("events")`)
		}
		if simulate {
			return adapter.SimulatedResult("DROP COLLECTION"), nil
		}
		if err := db.Collection(name).Drop(ctx); err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "dropped", Value: name}}), nil

	case "createCollection":
		name, ok := firstStringArg(q.Args)
		if !ok {
			return nil, errors.New(`createCollection requires a collection name, e.g. db.createCollection("events")`)
		}
		if err := db.CreateCollection(ctx, name); err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "created", Value: name}}), nil

	case "listCollections":
		specs, err := db.ListCollectionSpecifications(ctx, bson.D{})
		if err != nil {
			return nil, err
		}
		docs := make([]bson.D, len(specs))
		for i, spec := range specs {
			docs[i] = bson.D{{Key: "name", Value: spec.Name}, {Key: "type", Value: spec.Type}}
		}
		return docsResult(docs), nil

	case "getCollectionNames":
		names, err := db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, err
		}
		docs := make([]bson.D, len(names))
		for i, name := range names {
			docs[i] = bson.D{{Key: "name", Value: name}}
		}
		return docsResult(docs), nil
	}
	return nil, fmt.Errorf("unsupported database operation %q", q.Operation)
}

func firstStringArg(args []interface{}) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok && s != ""
}

// argDoc returns args[i] as a document, or an empty one when absent.
func argDoc(args []interface{}, i int) (map[string]interface{}, error) {
	if i >= len(args) || args[i] == nil {
		return map[string]interface{}{}, nil
	}
	doc, ok := args[i].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %d must be a document", i+1)
	}
	return doc, nil
}

// argArray returns args[i] as an array.
func argArray(args []interface{}, i int) ([]interface{}, error) {
	if i >= len(args) || args[i] == nil {
		return nil, fmt.Errorf("argument %d must be an array", i+1)
	}
	arr, ok := args[i].([]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %d must be an array", i+1)
	}
	return arr, nil
}
