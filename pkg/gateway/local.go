package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"propchain/pkg/functions"
	"propchain/pkg/metrics"
	"propchain/pkg/models"
)

// Local runs gateway calls in process against a functions.Service. Payloads
// and results still pass through JSON so both gateways see the same shapes.
type Local struct {
	service *functions.Service
	metrics metrics.MetricsCollector
}

func NewLocal(service *functions.Service, collector metrics.MetricsCollector) *Local {
	return &Local{service: service, metrics: metrics.OrNoOp(collector)}
}

func (l *Local) caller(sess models.Session) functions.Caller {
	if sess.AccessToken != "" {
		return l.service.Caller(sess.AccessToken)
	}
	return functions.Caller{Session: models.Anonymous()}
}

func (l *Local) QueryRows(ctx context.Context, sess models.Session, table string, q Query) ([]Row, error) {
	op := queryOp(table)
	start := time.Now()

	rq := functions.RowQuery{Filter: q.Filter}
	if q.Order != nil {
		rq.Order = q.Order.Column
		rq.Descending = q.Order.Descending
	}

	requests, err := l.service.QueryRows(ctx, l.caller(sess), table, rq)
	if err != nil {
		return nil, l.fail(op, start, err)
	}

	rows := make([]Row, 0, len(requests))
	for _, w := range requests {
		data, err := json.Marshal(w)
		if err != nil {
			return nil, l.fail(op, start, err)
		}
		rows = append(rows, data)
	}

	l.metrics.RecordGatewayCall(op, metrics.OutcomeSuccess, time.Since(start))
	return rows, nil
}

func (l *Local) InvokeServerFunction(ctx context.Context, sess models.Session, name string, payload interface{}) (json.RawMessage, error) {
	op := invokeOp(name)
	start := time.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: encode payload: %w", op, err)
	}

	result, err := l.service.Invoke(ctx, l.caller(sess), name, body)
	if err != nil {
		return nil, l.fail(op, start, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, l.fail(op, start, err)
	}

	l.metrics.RecordGatewayCall(op, metrics.OutcomeSuccess, time.Since(start))
	return data, nil
}

func (l *Local) GetSession(ctx context.Context, accessToken string) (models.Session, error) {
	start := time.Now()
	s := l.service.Session(accessToken)
	l.metrics.RecordGatewayCall(sessionOp, metrics.OutcomeSuccess, time.Since(start))
	return s, nil
}

func (l *Local) fail(op string, start time.Time, err error) error {
	var gerr *Error
	if rej, ok := functions.AsRejection(err); ok {
		gerr = rejectedError(op, rej.Status, rej.Message)
		l.metrics.RecordGatewayCall(op, metrics.OutcomeRejected, time.Since(start))
		return gerr
	}

	gerr = transportError(op, 0, err)
	l.metrics.RecordGatewayCall(op, metrics.OutcomeTransport, time.Since(start))
	return gerr
}
