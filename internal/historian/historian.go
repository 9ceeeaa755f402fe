// Package historian keeps the past values of historized variables and serves them
// to HistoryRead requests.
package historian

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/awcullen/opcua/server"
	"github.com/awcullen/opcua/ua"
	"github.com/sirupsen/logrus"
)

// Store persists the values of each historized node. Values of a key are appended in
// source timestamp order.
type Store interface {
	Append(ctx context.Context, key string, value ua.DataValue) error
	// Range returns at most max values (0 for all) with start <= source timestamp <= end,
	// oldest first.
	Range(ctx context.Context, key string, start, end time.Time, max int) ([]ua.DataValue, error)
	// Trim removes the oldest values of key so that at most count remain (0 keeps all)
	// and none is older than before (zero keeps all).
	Trim(ctx context.Context, key string, count int, before time.Time) error
	Close() error
}

// Historian implements server.HistoryReadWriter over a Store with a retention window
// per node: at most Count values, none older than Period.
type Historian struct {
	store  Store
	count  int
	period time.Duration
	log    *logrus.Logger
	now    func() time.Time
}

var _ server.HistoryReadWriter = (*Historian)(nil)

func New(store Store, count int, period time.Duration, log *logrus.Logger) *Historian {
	return &Historian{
		store:  store,
		count:  count,
		period: period,
		log:    log,
		now:    time.Now,
	}
}

// Close closes the store.
func (h *Historian) Close() error { return h.store.Close() }

func key(id ua.NodeID) string { return fmt.Sprint(id) }

// WriteValue records a value of a historized variable and applies the retention window.
func (h *Historian) WriteValue(ctx context.Context, nodeID ua.NodeID, value ua.DataValue) error {
	if value.SourceTimestamp.IsZero() {
		value.SourceTimestamp = h.now().UTC()
	}
	if value.ServerTimestamp.IsZero() {
		value.ServerTimestamp = h.now().UTC()
	}
	k := key(nodeID)
	if err := h.store.Append(ctx, k, value); err != nil {
		h.log.WithFields(logrus.Fields{
			"Node Id": k,
			"Err":     err,
		}).Errorln("Unable to store value ⛔")
		return err
	}
	var before time.Time
	if h.period > 0 {
		before = h.now().Add(-h.period)
	}
	if h.count > 0 || !before.IsZero() {
		return h.store.Trim(ctx, k, h.count, before)
	}
	return nil
}

// WriteEvent is not supported, no object of the spectrometer raises events.
func (h *Historian) WriteEvent(ctx context.Context, nodeID ua.NodeID, eventFields []ua.Variant) error {
	return ua.BadHistoryOperationUnsupported
}

// ReadRawModified returns the raw values of each node between details.StartTime and
// details.EndTime. When more than details.NumValuesPerNode values match, the result
// carries a continuation point to resume from.
func (h *Historian) ReadRawModified(ctx context.Context, nodesToRead []ua.HistoryReadValueID, details ua.ReadRawModifiedDetails,
	timestampsToReturn ua.TimestampsToReturn, releaseContinuationPoints bool) ([]ua.HistoryReadResult, ua.StatusCode) {
	results := make([]ua.HistoryReadResult, len(nodesToRead))
	if details.IsReadModified {
		for i := range results {
			results[i] = ua.HistoryReadResult{StatusCode: ua.BadHistoryOperationUnsupported}
		}
		return results, ua.Good
	}
	if releaseContinuationPoints {
		for i := range results {
			results[i] = ua.HistoryReadResult{StatusCode: ua.Good}
		}
		return results, ua.Good
	}

	start, end := details.StartTime, details.EndTime
	if end.IsZero() {
		end = h.now()
	}
	if end.Before(start) {
		start, end = end, start
	}
	max := int(details.NumValuesPerNode)

	for i, n := range nodesToRead {
		from := start
		if n.ContinuationPoint != "" {
			cp, err := parseContinuationPoint(n.ContinuationPoint)
			if err != nil {
				results[i] = ua.HistoryReadResult{StatusCode: ua.BadContinuationPointInvalid}
				continue
			}
			from = cp
		}
		limit := max
		if limit > 0 {
			// one more to know whether a continuation point is needed
			limit++
		}
		values, err := h.store.Range(ctx, key(n.NodeID), from, end, limit)
		if err != nil {
			h.log.WithFields(logrus.Fields{
				"Node Id": key(n.NodeID),
				"Err":     err,
			}).Errorln("Unable to read history ⛔")
			results[i] = ua.HistoryReadResult{StatusCode: ua.BadHistoryOperationInvalid}
			continue
		}
		var cp ua.ByteString
		if max > 0 && len(values) > max {
			cp = continuationPoint(values[max].SourceTimestamp)
			values = values[:max]
		}
		for j := range values {
			values[j] = selectTimestamps(values[j], timestampsToReturn)
		}
		results[i] = ua.HistoryReadResult{
			StatusCode:        ua.Good,
			ContinuationPoint: cp,
			HistoryData:       ua.HistoryData{DataValues: values},
		}
	}
	return results, ua.Good
}

func (h *Historian) ReadEvent(ctx context.Context, nodesToRead []ua.HistoryReadValueID, details ua.ReadEventDetails,
	timestampsToReturn ua.TimestampsToReturn, releaseContinuationPoints bool) ([]ua.HistoryReadResult, ua.StatusCode) {
	return unsupported(len(nodesToRead)), ua.Good
}

func (h *Historian) ReadProcessed(ctx context.Context, nodesToRead []ua.HistoryReadValueID, details ua.ReadProcessedDetails,
	timestampsToReturn ua.TimestampsToReturn, releaseContinuationPoints bool) ([]ua.HistoryReadResult, ua.StatusCode) {
	return unsupported(len(nodesToRead)), ua.Good
}

func (h *Historian) ReadAtTime(ctx context.Context, nodesToRead []ua.HistoryReadValueID, details ua.ReadAtTimeDetails,
	timestampsToReturn ua.TimestampsToReturn, releaseContinuationPoints bool) ([]ua.HistoryReadResult, ua.StatusCode) {
	return unsupported(len(nodesToRead)), ua.Good
}

func unsupported(n int) []ua.HistoryReadResult {
	results := make([]ua.HistoryReadResult, n)
	for i := range results {
		results[i] = ua.HistoryReadResult{StatusCode: ua.BadHistoryOperationUnsupported}
	}
	return results
}

func selectTimestamps(v ua.DataValue, which ua.TimestampsToReturn) ua.DataValue {
	switch which {
	case ua.TimestampsToReturnSource:
		v.ServerTimestamp, v.ServerPicoseconds = time.Time{}, 0
	case ua.TimestampsToReturnServer:
		v.SourceTimestamp, v.SourcePicoseconds = time.Time{}, 0
	case ua.TimestampsToReturnNeither:
		v.SourceTimestamp, v.SourcePicoseconds = time.Time{}, 0
		v.ServerTimestamp, v.ServerPicoseconds = time.Time{}, 0
	}
	return v
}

// The continuation point is the source timestamp of the next value to return.
func continuationPoint(t time.Time) ua.ByteString {
	return ua.ByteString(strconv.FormatInt(t.UnixNano(), 10))
}

func parseContinuationPoint(cp ua.ByteString) (time.Time, error) {
	ns, err := strconv.ParseInt(string(cp), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, ns).UTC(), nil
}
