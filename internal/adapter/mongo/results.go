package mongo

import (
	"encoding/base64"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sluicedb/sluice/internal/model"
)

// docsResult normalizes a document list into the tabular QueryResult shape.
// Documents must arrive as bson.D so the server's key order survives: columns
// are the union of top-level keys in first-seen order, typed from the first
// document that defines each key.
func docsResult(docs []bson.D) *model.QueryResult {
	var order []string
	types := make(map[string]string)

	rows := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		row := make(map[string]interface{}, len(doc))
		for _, e := range doc {
			if _, seen := types[e.Key]; !seen {
				order = append(order, e.Key)
				types[e.Key] = bsonTypeName(e.Value)
			}
			row[e.Key] = convertValue(e.Value)
		}
		rows[i] = row
	}

	columns := make([]model.Column, len(order))
	for i, key := range order {
		columns[i] = model.Column{Name: key, Type: types[key]}
	}
	return &model.QueryResult{Rows: rows, Columns: columns, RowCount: len(rows)}
}

// singleResult wraps one synthetic outcome document as a one-row result,
// keeping the element order as the column order.
func singleResult(doc bson.D) *model.QueryResult {
	converted := make(map[string]interface{}, len(doc))
	columns := make([]model.Column, 0, len(doc))
	for _, e := range doc {
		converted[e.Key] = convertValue(e.Value)
		columns = append(columns, model.Column{Name: e.Key, Type: bsonTypeName(e.Value)})
	}
	return &model.QueryResult{
		Rows:     []map[string]interface{}{converted},
		Columns:  columns,
		RowCount: 1,
	}
}

// convertValue maps BSON-typed values onto JSON-friendly representations.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return val.String()
	case primitive.Regex:
		return "/" + val.Pattern + "/" + val.Options
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(val.Data)
	case primitive.Timestamp:
		return map[string]interface{}{"t": val.T, "i": val.I}
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = convertValue(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = convertValue(elem)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = convertValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = convertValue(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = convertValue(elem)
		}
		return out
	}
	return v
}

// bsonTypeName is the fixed BSON-to-display type mapping.
func bsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32:
		return "int"
	case int64:
		return "long"
	case float32, float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Regex:
		return "regex"
	case primitive.Binary, []byte:
		return "binData"
	case primitive.Timestamp:
		return "timestamp"
	case bson.A, []interface{}:
		return "array"
	case bson.M, bson.D, map[string]interface{}:
		return "object"
	}
	return "unknown"
}
