// Package gateway is the client's only path to the managed backend. Each
// operation is a single round trip with no retries, and every failure is an
// *Error that says whether the backend refused or could not be reached.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"propchain/pkg/models"
)

// Row is one record of a row collection as the backend encoded it.
type Row = json.RawMessage

// Order sorts query results by a column.
type Order struct {
	Column     string
	Descending bool
}

// Query selects rows. Filter values match by equality.
type Query struct {
	Filter map[string]string
	Order  *Order
}

type Gateway interface {
	QueryRows(ctx context.Context, sess models.Session, table string, q Query) ([]Row, error)
	InvokeServerFunction(ctx context.Context, sess models.Session, name string, payload interface{}) (json.RawMessage, error)
	GetSession(ctx context.Context, accessToken string) (models.Session, error)
}

// DecodeRows decodes rows into T. A row that does not decode is reported as
// a transport failure because the backend's response was malformed.
func DecodeRows[T any](op string, rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		var v T
		if err := json.Unmarshal(row, &v); err != nil {
			return nil, transportError(op, 0, fmt.Errorf("malformed row %d: %w", i, err))
		}
		out = append(out, v)
	}
	return out, nil
}

// Decode decodes a function result into T, reporting malformed results as
// transport failures.
func Decode[T any](op string, raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, transportError(op, 0, fmt.Errorf("malformed response: %w", err))
	}
	return v, nil
}

func queryOp(table string) string { return "query:" + table }
func invokeOp(name string) string { return "invoke:" + name }

const sessionOp = "session"
