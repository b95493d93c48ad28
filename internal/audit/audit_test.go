package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type AuditSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *AuditSuite) TestPublisherStampsIDAndTimestamp() {
	ctx := context.Background()
	p := NewPublisher(s.store)

	s.Require().NoError(p.Emit(ctx, Event{
		Action:      ActionTreatmentCreated,
		TreatmentID: "t-1",
	}))

	events, err := p.List(ctx, "t-1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.NotZero(events[0].ID)
	s.False(events[0].Timestamp.IsZero())
}

func (s *AuditSuite) TestListFiltersByTreatment() {
	ctx := context.Background()
	p := NewPublisher(s.store)
	s.Require().NoError(p.Emit(ctx, Event{Action: ActionScanValidated, TreatmentID: "t-1"}))
	s.Require().NoError(p.Emit(ctx, Event{Action: ActionScanValidated, TreatmentID: "t-2"}))

	events, err := p.List(ctx, "t-2")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *AuditSuite) TestWorkerDrainsInbox() {
	inbox := make(chan Event, 8)
	worker := NewWorker(s.store, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	p := NewAsyncPublisher(inbox)
	s.Require().NoError(p.Emit(ctx, Event{Action: ActionRemovalFinalized, TreatmentID: "t-1"}))

	s.Eventually(func() bool {
		events, err := s.store.ListByTreatment(context.Background(), "t-1")
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *AuditSuite) TestAsyncPublisherDropsWhenFull() {
	inbox := make(chan Event, 1)
	p := NewAsyncPublisher(inbox)

	s.Require().NoError(p.Emit(context.Background(), Event{Action: ActionScanValidated}))
	s.ErrorIs(p.Emit(context.Background(), Event{Action: ActionScanValidated}), ErrBufferFull)
}
