package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockEventSource implements the EventSource interface for testing
type MockEventSource struct {
	mock.Mock
}

// EventsInWindow implements the EventSource interface
func (m *MockEventSource) EventsInWindow(ctx context.Context, begin, end time.Time, lookBack time.Duration) ([]*Event, error) {
	args := m.Called(ctx, begin, end, lookBack)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Event), args.Error(1)
}

// FamilyEvents implements the EventSource interface
func (m *MockEventSource) FamilyEvents(ctx context.Context, syncID string, eventID int64) ([]*Event, error) {
	args := m.Called(ctx, syncID, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Event), args.Error(1)
}

// MockInstanceStore implements the InstanceStore interface for testing
type MockInstanceStore struct {
	mock.Mock
}

func (m *MockInstanceStore) ReplaceInstances(ctx context.Context, instances []Instance) error {
	args := m.Called(ctx, instances)
	return args.Error(0)
}

func (m *MockInstanceStore) DeleteInstancesByEvent(ctx context.Context, eventID int64) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockInstanceStore) DeleteInstancesByFamily(ctx context.Context, syncID string) error {
	args := m.Called(ctx, syncID)
	return args.Error(0)
}

func (m *MockInstanceStore) DeleteAllInstances(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockInstanceStore) Instances(ctx context.Context, begin, end time.Time, opts *QueryOptions) ([]Instance, error) {
	args := m.Called(ctx, begin, end, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Instance), args.Error(1)
}

func (m *MockInstanceStore) InstancesByDay(ctx context.Context, startDay, endDay int, opts *QueryOptions) ([]Instance, error) {
	args := m.Called(ctx, startDay, endDay, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Instance), args.Error(1)
}

func (m *MockInstanceStore) BusyDays(ctx context.Context, startDay, endDay int) ([]int, error) {
	args := m.Called(ctx, startDay, endDay)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

// MockMetaStore implements the MetaStore interface for testing
type MockMetaStore struct {
	mock.Mock
}

func (m *MockMetaStore) Window(ctx context.Context) (Window, error) {
	args := m.Called(ctx)
	return args.Get(0).(Window), args.Error(1)
}

func (m *MockMetaStore) SetWindow(ctx context.Context, w Window) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *MockMetaStore) ClearWindow(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Helper methods for creating test data ---

// NewMockEvent creates a plain confirmed test event
func NewMockEvent(id int64, summary string, start, end time.Time) *Event {
	return &Event{
		ID:       id,
		Summary:  summary,
		Start:    start,
		End:      &end,
		Timezone: "UTC",
		Status:   StatusConfirmed,
	}
}

// NewMockRecurringEvent creates a recurring test event defined by a
// rule and an RFC 2445 duration
func NewMockRecurringEvent(id int64, syncID, rule string, start time.Time, duration string) *Event {
	return &Event{
		ID:       id,
		SyncID:   syncID,
		Summary:  "recurring " + syncID,
		Start:    start,
		Duration: duration,
		Timezone: "UTC",
		RRule:    rule,
		Status:   StatusConfirmed,
	}
}

// NewMockException creates an exception test event overriding one
// occurrence of the event identified by originalSyncID
func NewMockException(id int64, originalSyncID string, originalTime, start, end time.Time) *Event {
	return &Event{
		ID:             id,
		SyncID:         originalSyncID + "-ex",
		Summary:        "exception of " + originalSyncID,
		Start:          start,
		End:            &end,
		Timezone:       "UTC",
		OriginalSyncID: originalSyncID,
		OriginalTime:   &originalTime,
		Status:         StatusConfirmed,
	}
}
