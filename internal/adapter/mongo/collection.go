package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sluicedb/sluice/internal/adapter"
	"github.com/sluicedb/sluice/internal/model"
	"github.com/sluicedb/sluice/internal/mongoshell"
)

// Option keys that mark a find() second argument as an options document
// rather than a projection.
var findOptionKeys = []string{"sort", "limit", "skip", "projection", "maxTimeMS"}

// cursorMods collects the cursor shaping from chained calls and option
// documents: sort, limit, skip, projection.
type cursorMods struct {
	sort       map[string]interface{}
	projection map[string]interface{}
	limit      int64
	hasLimit   bool
	skip       int64
}

func (a *Adapter) runCollection(ctx context.Context, dbName string, q *mongoshell.Query, opts model.QueryOptions) (*model.QueryResult, error) {
	client := a.connection()
	if client == nil {
		return nil, errNotConnected
	}
	coll := client.Database(dbName).Collection(q.Collection)
	simulate := opts.DefaultConnection && !opts.AllowDestructive

	switch q.Operation {
	case "find":
		return a.find(ctx, coll, q, opts)
	case "findOne":
		return a.findOne(ctx, coll, q)
	case "aggregate":
		return a.aggregate(ctx, coll, q, opts)

	case "countDocuments", "count":
		filter, err := argDoc(q.Args, 0)
		if err != nil {
			return nil, err
		}
		n, err := coll.CountDocuments(ctx, filter, options.Count().SetMaxTime(a.queryTimeout))
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "count", Value: n}}), nil

	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx, options.EstimatedDocumentCount().SetMaxTime(a.queryTimeout))
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "count", Value: n}}), nil

	case "insertOne":
		if len(q.Args) == 0 {
			return nil, errors.New("insertOne requires a document")
		}
		res, err := coll.InsertOne(ctx, q.Args[0])
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedId", Value: res.InsertedID},
		}), nil

	case "insertMany":
		docs, err := argArray(q.Args, 0)
		if err != nil {
			return nil, err
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "insertedCount", Value: len(res.InsertedIDs)},
			{Key: "insertedIds", Value: res.InsertedIDs},
		}), nil

	case "updateOne", "updateMany":
		filter, err := argDoc(q.Args, 0)
		if err != nil {
			return nil, err
		}
		if len(q.Args) < 2 {
			return nil, fmt.Errorf("%s requires a filter and an update document", q.Operation)
		}
		uopts := options.Update()
		if extra, err := argDoc(q.Args, 2); err == nil {
			if upsert, ok := extra["upsert"].(bool); ok {
				uopts.SetUpsert(upsert)
			}
		}
		var res *mongo.UpdateResult
		if q.Operation == "updateOne" {
			res, err = coll.UpdateOne(ctx, filter, q.Args[1], uopts)
		} else {
			res, err = coll.UpdateMany(ctx, filter, q.Args[1], uopts)
		}
		if err != nil {
			return nil, err
		}
		return updateResult(res), nil

	case "replaceOne":
		filter, err := argDoc(q.Args, 0)
		if err != nil {
			return nil, err
		}
		replacement, err := argDoc(q.Args, 1)
		if err != nil || len(q.Args) < 2 {
			return nil, errors.New("replaceOne requires a filter and a replacement document")
		}
		ropts := options.Replace()
		if extra, err := argDoc(q.Args, 2); err == nil {
			if upsert, ok := extra["upsert"].(bool); ok {
				ropts.SetUpsert(upsert)
			}
		}
		res, err := coll.ReplaceOne(ctx, filter, replacement, ropts)
		if err != nil {
			return nil, err
		}
		return updateResult(res), nil

	case "deleteOne", "deleteMany":
		filter, err := argDoc(q.Args, 0)
		if err != nil {
			return nil, err
		}
		var res *mongo.DeleteResult
		if q.Operation == "deleteOne" {
			res, err = coll.DeleteOne(ctx, filter)
		} else {
			res, err = coll.DeleteMany(ctx, filter)
		}
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{
			{Key: "acknowledged", Value: true},
			{Key: "deletedCount", Value: res.DeletedCount},
		}), nil

	case "findOneAndUpdate", "findOneAndReplace", "findOneAndDelete":
		return a.findOneAndModify(ctx, coll, q)

	case "distinct":
		field, ok := firstStringArg(q.Args)
		if !ok {
			return nil, errors.New(`distinct requires a field name, e.g. db.users.distinct("city")`)
		}
		filter, err := argDoc(q.Args, 1)
		if err != nil {
			return nil, err
		}
		values, err := coll.Distinct(ctx, field, filter, options.Distinct().SetMaxTime(a.queryTimeout))
		if err != nil {
			return nil, err
		}
		docs := make([]bson.D, len(values))
		for i, v := range values {
			docs[i] = bson.D{{Key: "value", Value: v}}
		}
		return docsResult(docs), nil

	case "bulkWrite":
		return a.bulkWrite(ctx, coll, q)

	case "createIndex":
		keys, err := argDoc(q.Args, 0)
		if err != nil || len(q.Args) == 0 {
			return nil, errors.New("createIndex requires a key specification document")
		}
		iopts := options.Index()
		if extra, err := argDoc(q.Args, 1); err == nil {
			if unique, ok := extra["unique"].(bool); ok {
				iopts.SetUnique(unique)
			}
			if name, ok := extra["name"].(string); ok {
				iopts.SetName(name)
			}
		}
		name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: iopts})
		if err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "createdIndexName", Value: name}}), nil

	case "listIndexes", "getIndexes":
		cursor, err := coll.Indexes().List(ctx)
		if err != nil {
			return nil, err
		}
		var docs []bson.D
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, err
		}
		return docsResult(docs), nil

	case "dropIndex":
		name, ok := firstStringArg(q.Args)
		if !ok {
			return nil, errors.New(`dropIndex requires an index name, e.g. db.users.dropIndex("age_1")`)
		}
		if _, err := coll.Indexes().DropOne(ctx, name); err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "dropped", Value: name}}), nil

	case "stats":
		var doc bson.D
		cmd := bson.D{{Key: "collStats", Value: q.Collection}}
		if err := coll.Database().RunCommand(ctx, cmd).Decode(&doc); err != nil {
			return nil, err
		}
		return docsResult([]bson.D{doc}), nil

	case "drop":
		if simulate {
			return adapter.SimulatedResult("DROP COLLECTION"), nil
		}
		if err := coll.Drop(ctx); err != nil {
			return nil, err
		}
		return singleResult(bson.D{{Key: "ok", Value: 1}, {Key: "dropped", Value: q.Collection}}), nil
	}
	return nil, fmt.Errorf("unsupported collection operation %q", q.Operation)
}

func (a *Adapter) find(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query, qopts model.QueryOptions) (*model.QueryResult, error) {
	filter, err := argDoc(q.Args, 0)
	if err != nil {
		return nil, err
	}

	mods := cursorMods{}
	if len(q.Args) > 1 {
		second, err := argDoc(q.Args, 1)
		if err != nil {
			return nil, err
		}
		if isOptionsDoc(second) {
			applyOptionsDoc(&mods, second)
		} else if len(second) > 0 {
			mods.projection = second
		}
	}
	if err := applyChain(&mods, q.Chain); err != nil {
		return nil, err
	}

	limit := mods.limit
	if !mods.hasLimit {
		limit = int64(qopts.Limit)
		if limit == 0 {
			limit = int64(a.defaultLimit)
		}
	}
	skip := mods.skip
	if skip == 0 && qopts.Offset > 0 {
		skip = int64(qopts.Offset)
	}

	if qopts.Explain {
		return a.explain(ctx, coll, findCommand(coll.Name(), filter, mods, limit, skip))
	}

	fopts := options.Find().SetMaxTime(a.queryTimeout)
	if mods.sort != nil {
		fopts.SetSort(mods.sort)
	}
	if mods.projection != nil {
		fopts.SetProjection(mods.projection)
	}
	if limit > 0 {
		fopts.SetLimit(limit)
	}
	if skip > 0 {
		fopts.SetSkip(skip)
	}

	cursor, err := coll.Find(ctx, filter, fopts)
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docsResult(docs), nil
}

// findCommand rebuilds the wire-level find command so an explain describes
// the same cursor the execution path would open, caps included.
func findCommand(collection string, filter map[string]interface{}, mods cursorMods, limit, skip int64) bson.D {
	cmd := bson.D{{Key: "find", Value: collection}, {Key: "filter", Value: filter}}
	if mods.sort != nil {
		cmd = append(cmd, bson.E{Key: "sort", Value: mods.sort})
	}
	if mods.projection != nil {
		cmd = append(cmd, bson.E{Key: "projection", Value: mods.projection})
	}
	if limit > 0 {
		cmd = append(cmd, bson.E{Key: "limit", Value: limit})
	}
	if skip > 0 {
		cmd = append(cmd, bson.E{Key: "skip", Value: skip})
	}
	return cmd
}

func (a *Adapter) findOne(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query) (*model.QueryResult, error) {
	filter, err := argDoc(q.Args, 0)
	if err != nil {
		return nil, err
	}
	fopts := options.FindOne().SetMaxTime(a.queryTimeout)
	if len(q.Args) > 1 {
		projection, err := argDoc(q.Args, 1)
		if err != nil {
			return nil, err
		}
		if len(projection) > 0 && !isOptionsDoc(projection) {
			fopts.SetProjection(projection)
		}
	}

	var doc bson.D
	err = coll.FindOne(ctx, filter, fopts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docsResult(nil), nil
	}
	if err != nil {
		return nil, err
	}
	return docsResult([]bson.D{doc}), nil
}

func (a *Adapter) aggregate(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query, qopts model.QueryOptions) (*model.QueryResult, error) {
	pipeline, err := argArray(q.Args, 0)
	if err != nil {
		return nil, err
	}

	// Chained calls become trailing pipeline stages, in chain order.
	hasLimit := pipelineHasLimit(pipeline)
	for _, call := range q.Chain {
		switch call.Name {
		case "sort":
			doc, err := argDoc(call.Args, 0)
			if err != nil {
				return nil, fmt.Errorf("sort: %w", err)
			}
			pipeline = append(pipeline, map[string]interface{}{"$sort": doc})
		case "limit":
			n, err := argInt(call.Args, 0)
			if err != nil {
				return nil, fmt.Errorf("limit: %w", err)
			}
			pipeline = append(pipeline, map[string]interface{}{"$limit": n})
			hasLimit = true
		case "skip":
			n, err := argInt(call.Args, 0)
			if err != nil {
				return nil, fmt.Errorf("skip: %w", err)
			}
			pipeline = append(pipeline, map[string]interface{}{"$skip": n})
		case "project":
			doc, err := argDoc(call.Args, 0)
			if err != nil {
				return nil, fmt.Errorf("project: %w", err)
			}
			pipeline = append(pipeline, map[string]interface{}{"$project": doc})
		case "count":
			return nil, errors.New(".count() is deprecated; use countDocuments() or a $count stage")
		case "toArray":
			return nil, errors.New(".toArray() is unnecessary; results are returned as an array")
		default:
			return nil, fmt.Errorf("unsupported chained method %q", call.Name)
		}
	}
	if !hasLimit && qopts.Limit >= 0 {
		limit := int64(qopts.Limit)
		if limit == 0 {
			limit = int64(a.defaultLimit)
		}
		pipeline = append(pipeline, map[string]interface{}{"$limit": limit})
	}

	if qopts.Explain {
		cmd := bson.D{
			{Key: "aggregate", Value: coll.Name()},
			{Key: "pipeline", Value: pipeline},
			{Key: "cursor", Value: bson.D{}},
		}
		return a.explain(ctx, coll, cmd)
	}

	cursor, err := coll.Aggregate(ctx, pipeline, options.Aggregate().SetMaxTime(a.queryTimeout))
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docsResult(docs), nil
}

func (a *Adapter) findOneAndModify(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query) (*model.QueryResult, error) {
	filter, err := argDoc(q.Args, 0)
	if err != nil {
		return nil, err
	}

	var res *mongo.SingleResult
	switch q.Operation {
	case "findOneAndUpdate":
		if len(q.Args) < 2 {
			return nil, errors.New("findOneAndUpdate requires a filter and an update document")
		}
		fopts := options.FindOneAndUpdate()
		if extra, err := argDoc(q.Args, 2); err == nil {
			if upsert, ok := extra["upsert"].(bool); ok {
				fopts.SetUpsert(upsert)
			}
			if after, ok := extra["returnNewDocument"].(bool); ok && after {
				fopts.SetReturnDocument(options.After)
			}
		}
		res = coll.FindOneAndUpdate(ctx, filter, q.Args[1], fopts)

	case "findOneAndReplace":
		replacement, err := argDoc(q.Args, 1)
		if err != nil || len(q.Args) < 2 {
			return nil, errors.New("findOneAndReplace requires a filter and a replacement document")
		}
		fopts := options.FindOneAndReplace()
		if extra, err := argDoc(q.Args, 2); err == nil {
			if upsert, ok := extra["upsert"].(bool); ok {
				fopts.SetUpsert(upsert)
			}
			if after, ok := extra["returnNewDocument"].(bool); ok && after {
				fopts.SetReturnDocument(options.After)
			}
		}
		res = coll.FindOneAndReplace(ctx, filter, replacement, fopts)

	case "findOneAndDelete":
		res = coll.FindOneAndDelete(ctx, filter)
	}

	var doc bson.D
	err = res.Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return singleResult(bson.D{{Key: "value", Value: nil}}), nil
	}
	if err != nil {
		return nil, err
	}
	return docsResult([]bson.D{doc}), nil
}

func (a *Adapter) bulkWrite(ctx context.Context, coll *mongo.Collection, q *mongoshell.Query) (*model.QueryResult, error) {
	ops, err := argArray(q.Args, 0)
	if err != nil {
		return nil, err
	}
	models := make([]mongo.WriteModel, 0, len(ops))
	for i, raw := range ops {
		op, ok := raw.(map[string]interface{})
		if !ok || len(op) != 1 {
			return nil, fmt.Errorf("bulkWrite operation %d must be a single-key document", i+1)
		}
		for name, spec := range op {
			body, ok := spec.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("bulkWrite %s body must be a document", name)
			}
			m, err := bulkModel(name, body)
			if err != nil {
				return nil, err
			}
			models = append(models, m)
		}
	}

	res, err := coll.BulkWrite(ctx, models)
	if err != nil {
		return nil, err
	}
	return singleResult(bson.D{
		{Key: "acknowledged", Value: true},
		{Key: "insertedCount", Value: res.InsertedCount},
		{Key: "matchedCount", Value: res.MatchedCount},
		{Key: "modifiedCount", Value: res.ModifiedCount},
		{Key: "deletedCount", Value: res.DeletedCount},
		{Key: "upsertedCount", Value: res.UpsertedCount},
	}), nil
}

func bulkModel(name string, body map[string]interface{}) (mongo.WriteModel, error) {
	filter, _ := body["filter"].(map[string]interface{})
	switch name {
	case "insertOne":
		doc, ok := body["document"]
		if !ok {
			return nil, errors.New("bulkWrite insertOne requires a document field")
		}
		return mongo.NewInsertOneModel().SetDocument(doc), nil
	case "updateOne":
		m := mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(body["update"])
		if upsert, ok := body["upsert"].(bool); ok {
			m.SetUpsert(upsert)
		}
		return m, nil
	case "updateMany":
		m := mongo.NewUpdateManyModel().SetFilter(filter).SetUpdate(body["update"])
		if upsert, ok := body["upsert"].(bool); ok {
			m.SetUpsert(upsert)
		}
		return m, nil
	case "replaceOne":
		m := mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(body["replacement"])
		if upsert, ok := body["upsert"].(bool); ok {
			m.SetUpsert(upsert)
		}
		return m, nil
	case "deleteOne":
		return mongo.NewDeleteOneModel().SetFilter(filter), nil
	case "deleteMany":
		return mongo.NewDeleteManyModel().SetFilter(filter), nil
	}
	return nil, fmt.Errorf("unsupported bulkWrite operation %q", name)
}

// explain runs a wrapped explain command and returns the plan as one row.
func (a *Adapter) explain(ctx context.Context, coll *mongo.Collection, cmd bson.D) (*model.QueryResult, error) {
	wrapped := bson.D{
		{Key: "explain", Value: cmd},
		{Key: "verbosity", Value: "executionStats"},
	}
	var doc bson.D
	if err := coll.Database().RunCommand(ctx, wrapped).Decode(&doc); err != nil {
		return nil, err
	}
	return docsResult([]bson.D{doc}), nil
}

func updateResult(res *mongo.UpdateResult) *model.QueryResult {
	doc := bson.D{
		{Key: "acknowledged", Value: true},
		{Key: "matchedCount", Value: res.MatchedCount},
		{Key: "modifiedCount", Value: res.ModifiedCount},
		{Key: "upsertedCount", Value: res.UpsertedCount},
	}
	if res.UpsertedID != nil {
		doc = append(doc, bson.E{Key: "upsertedId", Value: res.UpsertedID})
	}
	return singleResult(doc)
}

// isOptionsDoc reports whether a find() second argument is an options
// document (any reserved key present) rather than a projection.
func isOptionsDoc(doc map[string]interface{}) bool {
	for _, key := range findOptionKeys {
		if _, ok := doc[key]; ok {
			return true
		}
	}
	return false
}

func applyOptionsDoc(mods *cursorMods, doc map[string]interface{}) {
	if sort, ok := doc["sort"].(map[string]interface{}); ok {
		mods.sort = sort
	}
	if projection, ok := doc["projection"].(map[string]interface{}); ok {
		mods.projection = projection
	}
	if n, ok := numericValue(doc["limit"]); ok {
		mods.limit = n
		mods.hasLimit = true
	}
	if n, ok := numericValue(doc["skip"]); ok {
		mods.skip = n
	}
}

func applyChain(mods *cursorMods, chain []mongoshell.Call) error {
	for _, call := range chain {
		switch call.Name {
		case "sort":
			doc, err := argDoc(call.Args, 0)
			if err != nil {
				return fmt.Errorf("sort: %w", err)
			}
			mods.sort = doc
		case "limit":
			n, err := argInt(call.Args, 0)
			if err != nil {
				return fmt.Errorf("limit: %w", err)
			}
			mods.limit = n
			mods.hasLimit = true
		case "skip":
			n, err := argInt(call.Args, 0)
			if err != nil {
				return fmt.Errorf("skip: %w", err)
			}
			mods.skip = n
		case "project":
			doc, err := argDoc(call.Args, 0)
			if err != nil {
				return fmt.Errorf("project: %w", err)
			}
			mods.projection = doc
		case "count":
			return errors.New(".count() is deprecated; use countDocuments() instead")
		case "toArray":
			return errors.New(".toArray() is unnecessary; results are returned as an array")
		default:
			return fmt.Errorf("unsupported chained method %q", call.Name)
		}
	}
	return nil
}

func argInt(args []interface{}, i int) (int64, error) {
	if i >= len(args) {
		return 0, errors.New("numeric argument required")
	}
	if n, ok := numericValue(args[i]); ok {
		return n, nil
	}
	return 0, fmt.Errorf("argument %d must be a number", i+1)
}

func numericValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func pipelineHasLimit(pipeline []interface{}) bool {
	for _, stage := range pipeline {
		if doc, ok := stage.(map[string]interface{}); ok {
			if _, ok := doc["$limit"]; ok {
				return true
			}
		}
	}
	return false
}
