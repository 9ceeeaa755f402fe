package uaclient

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror/mirrortest"
	"github.com/awcullen/opcua/ua"
)

// fakeSession answers the session services from an in-memory address space.
type fakeSession struct {
	srv *mirrortest.Server
	// max references per browse result, 0 means all
	page int

	mu           sync.Mutex
	continuation map[string][]ua.ReferenceDescription
	nextSub      uint32
	nextItem     uint32
	items        map[uint32][]ua.MonitoredItemCreateRequest
	failItem     map[string]ua.StatusCode
	publishReqs  []*ua.PublishRequest
	deletedSubs  []uint32
	deletedItems []uint32
	closed       bool

	responses chan *ua.PublishResponse
}

var _ Session = (*fakeSession)(nil)

func newFakeSession(srv *mirrortest.Server) *fakeSession {
	return &fakeSession{
		srv:          srv,
		continuation: make(map[string][]ua.ReferenceDescription),
		items:        make(map[uint32][]ua.MonitoredItemCreateRequest),
		failItem:     make(map[string]ua.StatusCode),
		responses:    make(chan *ua.PublishResponse),
	}
}

func statusOf(err error) ua.StatusCode {
	if code, ok := err.(ua.StatusCode); ok {
		return code
	}
	return ua.BadUnexpectedError
}

func (f *fakeSession) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	results := make([]ua.BrowseResult, len(req.NodesToBrowse))
	for i, d := range req.NodesToBrowse {
		var ids []ua.NodeID
		var err error
		switch d.ReferenceTypeID {
		case ua.ReferenceTypeIDHierarchicalReferences:
			ids, err = f.srv.Children(ctx, d.NodeID)
		case ua.ReferenceTypeIDHasProperty:
			ids, err = f.srv.Properties(ctx, d.NodeID)
		case ua.ReferenceTypeIDHasComponent:
			ids, err = f.srv.Variables(ctx, d.NodeID)
		case ua.ReferenceTypeIDHasTypeDefinition:
			var id ua.NodeID
			id, err = f.srv.TypeDefinition(ctx, d.NodeID)
			if id != nil {
				ids = []ua.NodeID{id}
			}
		default:
			err = ua.BadReferenceTypeIDInvalid
		}
		if err != nil {
			results[i] = ua.BrowseResult{StatusCode: statusOf(err)}
			continue
		}
		refs := make([]ua.ReferenceDescription, len(ids))
		for j, id := range ids {
			refs[j] = ua.ReferenceDescription{ReferenceTypeID: d.ReferenceTypeID, IsForward: true, NodeID: ua.NewExpandedNodeID(id)}
		}
		results[i] = f.paged(refs)
	}
	return &ua.BrowseResponse{Results: results}, nil
}

func (f *fakeSession) paged(refs []ua.ReferenceDescription) ua.BrowseResult {
	if f.page == 0 || len(refs) <= f.page {
		return ua.BrowseResult{References: refs}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := strconv.Itoa(len(f.continuation) + 1)
	f.continuation[cp] = refs[f.page:]
	return ua.BrowseResult{References: refs[:f.page], ContinuationPoint: ua.ByteString(cp)}
}

func (f *fakeSession) BrowseNext(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	results := make([]ua.BrowseResult, len(req.ContinuationPoints))
	for i, cp := range req.ContinuationPoints {
		f.mu.Lock()
		refs, ok := f.continuation[string(cp)]
		delete(f.continuation, string(cp))
		f.mu.Unlock()
		if !ok {
			results[i] = ua.BrowseResult{StatusCode: ua.BadContinuationPointInvalid}
			continue
		}
		results[i] = f.paged(refs)
	}
	return &ua.BrowseNextResponse{Results: results}, nil
}

func (f *fakeSession) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	results := make([]ua.DataValue, len(req.NodesToRead))
	for i, r := range req.NodesToRead {
		switch r.AttributeID {
		case ua.AttributeIDBrowseName:
			name, err := f.srv.BrowseName(ctx, r.NodeID)
			if err != nil {
				results[i] = ua.DataValue{StatusCode: statusOf(err)}
				continue
			}
			results[i] = ua.DataValue{Value: name}
		case ua.AttributeIDNodeClass:
			class, err := f.srv.NodeClass(ctx, r.NodeID)
			if err != nil {
				results[i] = ua.DataValue{StatusCode: statusOf(err)}
				continue
			}
			results[i] = ua.DataValue{Value: int32(class)}
		default:
			results[i] = ua.DataValue{StatusCode: ua.BadAttributeIDInvalid}
		}
	}
	return &ua.ReadResponse{Results: results}, nil
}

func (f *fakeSession) Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error) {
	results := make([]ua.StatusCode, len(req.NodesToWrite))
	for i, w := range req.NodesToWrite {
		if err := f.srv.SetDataValue(ctx, w.NodeID, w.Value); err != nil {
			results[i] = statusOf(err)
		}
	}
	return &ua.WriteResponse{Results: results}, nil
}

func (f *fakeSession) CreateSubscription(ctx context.Context, req *ua.CreateSubscriptionRequest) (*ua.CreateSubscriptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	return &ua.CreateSubscriptionResponse{SubscriptionID: f.nextSub, RevisedPublishingInterval: req.RequestedPublishingInterval}, nil
}

func (f *fakeSession) CreateMonitoredItems(ctx context.Context, req *ua.CreateMonitoredItemsRequest) (*ua.CreateMonitoredItemsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]ua.MonitoredItemCreateResult, len(req.ItemsToCreate))
	for i, item := range req.ItemsToCreate {
		if code, ok := f.failItem[fmt.Sprint(item.ItemToMonitor.NodeID)]; ok {
			results[i] = ua.MonitoredItemCreateResult{StatusCode: code}
			continue
		}
		f.nextItem++
		f.items[req.SubscriptionID] = append(f.items[req.SubscriptionID], item)
		results[i] = ua.MonitoredItemCreateResult{MonitoredItemID: f.nextItem}
	}
	return &ua.CreateMonitoredItemsResponse{Results: results}, nil
}

func (f *fakeSession) DeleteMonitoredItems(ctx context.Context, req *ua.DeleteMonitoredItemsRequest) (*ua.DeleteMonitoredItemsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedItems = append(f.deletedItems, req.MonitoredItemIDs...)
	return &ua.DeleteMonitoredItemsResponse{Results: make([]ua.StatusCode, len(req.MonitoredItemIDs))}, nil
}

func (f *fakeSession) Publish(ctx context.Context, req *ua.PublishRequest) (*ua.PublishResponse, error) {
	f.mu.Lock()
	f.publishReqs = append(f.publishReqs, req)
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-f.responses:
		return res, nil
	}
}

func (f *fakeSession) DeleteSubscriptions(ctx context.Context, req *ua.DeleteSubscriptionsRequest) (*ua.DeleteSubscriptionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedSubs = append(f.deletedSubs, req.SubscriptionIDs...)
	for _, id := range req.SubscriptionIDs {
		delete(f.items, id)
	}
	return &ua.DeleteSubscriptionsResponse{Results: make([]ua.StatusCode, len(req.SubscriptionIDs))}, nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) Abort(ctx context.Context) error { return f.Close(ctx) }

func (f *fakeSession) monitored(sub uint32) []ua.MonitoredItemCreateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ua.MonitoredItemCreateRequest(nil), f.items[sub]...)
}

func (f *fakeSession) acks() [][]ua.SubscriptionAcknowledgement {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := [][]ua.SubscriptionAcknowledgement{}
	for _, r := range f.publishReqs {
		res = append(res, r.SubscriptionAcknowledgements)
	}
	return res
}
