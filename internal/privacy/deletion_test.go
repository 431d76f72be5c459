package privacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	requests map[string]*DeleteRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: map[string]*DeleteRequest{}}
}

func (f *fakeStore) FindNonTerminalByUser(ctx context.Context, userID string) (*DeleteRequest, error) {
	for _, req := range f.requests {
		if req.UserID == userID && !req.Status.terminal() {
			return req, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateRequest(ctx context.Context, req *DeleteRequest) error {
	req.ID = "req-" + req.UserID
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) GetOwnedRequest(ctx context.Context, id, userID string) (*DeleteRequest, error) {
	req, ok := f.requests[id]
	if !ok || req.UserID != userID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (f *fakeStore) ClaimDueRequests(ctx context.Context, now time.Time, leaseOwner string, leaseSeconds, maxRequests int) ([]*DeleteRequest, error) {
	var claimed []*DeleteRequest
	for _, req := range f.requests {
		if req.Status == StatusQueued {
			req.Status = StatusRunning
			req.LeaseOwner = leaseOwner
			expires := now.Add(time.Duration(leaseSeconds) * time.Second)
			req.LeaseExpiresAt = &expires
			claimed = append(claimed, req)
			if len(claimed) >= maxRequests {
				break
			}
		}
	}
	return claimed, nil
}

func (f *fakeStore) UpdateRequest(ctx context.Context, req *DeleteRequest) error {
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) CountOverdue(ctx context.Context, now time.Time) (int, error) {
	var n int
	for _, req := range f.requests {
		if !req.Status.terminal() && !req.SLADueAt.After(now) {
			n++
		}
	}
	return n, nil
}

type fakeRevoker struct {
	revoked int
	errs    []string
}

func (f *fakeRevoker) RevokeAllForUser(ctx context.Context, userID string) (int, []string) {
	return f.revoked, f.errs
}

type fakePurger struct {
	sessionsPurged int
	err            error
}

func (f *fakePurger) PurgeAllForUser(ctx context.Context, userID string) (int, error) {
	return f.sessionsPurged, f.err
}

type fakeUsers struct {
	marked []string
	err    error
}

func (f *fakeUsers) MarkUserDeleted(ctx context.Context, userID string) error {
	f.marked = append(f.marked, userID)
	return f.err
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) LogEvent(ctx context.Context, eventType, userID string, metadata map[string]string) {
	f.events = append(f.events, eventType)
}

func TestService_RequestDeletion_DedupesNonTerminalRequest(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRevoker{}, &fakePurger{}, &fakeUsers{}, &fakeAudit{}, 72*time.Hour, testr.New(t))

	now := time.Now()
	first, err := svc.RequestDeletion(context.Background(), "user-1", now)
	require.NoError(t, err)

	second, err := svc.RequestDeletion(context.Background(), "user-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestService_RequestDeletion_RejectsEmptyUserID(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRevoker{}, &fakePurger{}, &fakeUsers{}, &fakeAudit{}, time.Hour, testr.New(t))

	_, err := svc.RequestDeletion(context.Background(), "", time.Now())
	require.ErrorIs(t, err, ErrMissingUserID)
}

func TestService_ClaimAndProcess_CompletesSuccessfulDeletion(t *testing.T) {
	store := newFakeStore()
	users := &fakeUsers{}
	audit := &fakeAudit{}
	svc := NewService(store, &fakeRevoker{revoked: 2}, &fakePurger{sessionsPurged: 5}, users, audit, time.Hour, testr.New(t))

	now := time.Now()
	req, err := svc.RequestDeletion(context.Background(), "user-1", now)
	require.NoError(t, err)

	require.NoError(t, svc.ClaimAndProcess(context.Background(), now, "worker-1", 60, 10))

	updated := store.requests[req.ID]
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, 2, updated.ConnectorsRevoked)
	require.Equal(t, 5, updated.SessionsPurged)
	require.Contains(t, users.marked, "user-1")
	require.Contains(t, audit.events, "privacy_delete_completed")
}

func TestService_ClaimAndProcess_FailsOnPurgeError(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRevoker{}, &fakePurger{err: errors.New("disk full")}, &fakeUsers{}, &fakeAudit{}, time.Hour, testr.New(t))

	now := time.Now()
	req, err := svc.RequestDeletion(context.Background(), "user-1", now)
	require.NoError(t, err)

	require.NoError(t, svc.ClaimAndProcess(context.Background(), now, "worker-1", 60, 10))

	updated := store.requests[req.ID]
	require.Equal(t, StatusFailed, updated.Status)
	require.Len(t, updated.Errors, 1)
}

func TestService_GetOwnedRequest_RejectsCrossUserLookup(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRevoker{}, &fakePurger{}, &fakeUsers{}, &fakeAudit{}, time.Hour, testr.New(t))

	req, err := svc.RequestDeletion(context.Background(), "user-1", time.Now())
	require.NoError(t, err)

	_, err = svc.GetOwnedRequest(context.Background(), req.ID, "user-2")
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestService_WarnOverdue_CountsRequestsPastSLA(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRevoker{}, &fakePurger{}, &fakeUsers{}, &fakeAudit{}, time.Hour, testr.New(t))

	past := time.Now().Add(-2 * time.Hour)
	_, err := svc.RequestDeletion(context.Background(), "user-1", past)
	require.NoError(t, err)

	require.NoError(t, svc.WarnOverdue(context.Background(), time.Now()))
}
