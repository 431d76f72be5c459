package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stateRow struct {
	userID, provider string
	expiresAt        time.Time
}

type fakeStore struct {
	states     map[string]stateRow
	connectors map[string]*Connector
	nextID     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]stateRow{}, connectors: map[string]*Connector{}}
}

func (f *fakeStore) CreateState(ctx context.Context, hashedState, userID, provider string, expiresAt time.Time) error {
	f.states[hashedState] = stateRow{userID: userID, provider: provider, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumeState(ctx context.Context, hashedState string) (string, string, error) {
	row, ok := f.states[hashedState]
	if !ok {
		return "", "", ErrInvalidState
	}
	delete(f.states, hashedState)
	if time.Now().After(row.expiresAt) {
		return "", "", ErrInvalidState
	}
	return row.userID, row.provider, nil
}

func (f *fakeStore) CreateConnector(ctx context.Context, c *Connector) error {
	f.nextID++
	c.ID = fmt.Sprintf("conn-%d", f.nextID)
	f.connectors[c.ID] = c
	return nil
}

func (f *fakeStore) GetOwnedConnector(ctx context.Context, id, userID string) (*Connector, error) {
	c, ok := f.connectors[id]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListForUser(ctx context.Context, userID string) ([]*Connector, error) {
	var out []*Connector
	for _, c := range f.connectors {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRevoked(ctx context.Context, id string) error {
	if c, ok := f.connectors[id]; ok {
		c.Status = StatusRevoked
	}
	return nil
}

type fakeRPCClient struct {
	exchangeResult *ExchangeResult
	exchangeErr    error
	revokeResult   *RevokeResult
	revokeErr      error
	calls          []string
}

func (f *fakeRPCClient) Do(ctx context.Context, method, path string, requestBody, out any, expectedRequestID string) error {
	f.calls = append(f.calls, path)
	switch path {
	case PathTokenExchange:
		if f.exchangeErr != nil {
			return f.exchangeErr
		}
		*(out.(*ExchangeResult)) = *f.exchangeResult
	case PathTokenRevoke:
		if f.revokeErr != nil {
			return f.revokeErr
		}
		*(out.(*RevokeResult)) = *f.revokeResult
	}
	return nil
}

func testProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		ProviderGoogle: {
			OAuth2: &oauth2.Config{
				ClientID:    "client-1",
				RedirectURL: "https://host.example/v1/connectors/google/callback",
				Scopes:      CalendarMailScopes,
				Endpoint:    oauth2.Endpoint{AuthURL: "https://provider.example/auth", TokenURL: "https://provider.example/token"},
			},
			RevokeURL: "https://provider.example/revoke",
		},
	}
}

func TestService_Start_PersistsStateAndBuildsAuthURL(t *testing.T) {
	store := newFakeStore()
	rpc := &fakeRPCClient{}
	svc := NewService(store, rpc, testProviders(), testr.New(t))

	authURL, err := svc.Start(context.Background(), "user-1", ProviderGoogle)
	require.NoError(t, err)
	require.Contains(t, authURL, "https://provider.example/auth")
	require.Len(t, store.states, 1)
}

func TestService_Callback_ConsumesStateAndPersistsSealedToken(t *testing.T) {
	store := newFakeStore()
	rpc := &fakeRPCClient{exchangeResult: &ExchangeResult{
		SealedRefreshToken: []byte("sealed"),
		KMSKeyID:           "key-1",
		KMSKeyVersion:      3,
		GrantedScopes:      CalendarMailScopes,
	}}
	svc := NewService(store, rpc, testProviders(), testr.New(t))

	authURL, err := svc.Start(context.Background(), "user-1", ProviderGoogle)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	rawState := parsed.Query().Get("state")
	require.NotEmpty(t, rawState)

	c, err := svc.Callback(context.Background(), rawState, "auth-code")
	require.NoError(t, err)
	require.Equal(t, "user-1", c.UserID)
	require.Equal(t, []byte("sealed"), c.SealedToken)
	require.Equal(t, "key-1", c.KMSKeyID)
	require.Equal(t, StatusActive, c.Status)

	_, _, err = store.ConsumeState(context.Background(), HashStateToken(rawState))
	require.ErrorIs(t, err, ErrInvalidState, "a consumed state must not be reusable")
}

func TestService_Callback_RejectsUnknownState(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, &fakeRPCClient{}, testProviders(), testr.New(t))

	_, err := svc.Callback(context.Background(), "never-issued", "code")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestService_RevokeAllForUser_ContinuesPastPerConnectorFailure(t *testing.T) {
	store := newFakeStore()
	store.connectors["conn-1"] = &Connector{ID: "conn-1", UserID: "user-1", Provider: ProviderGoogle, Status: StatusActive}
	store.connectors["conn-2"] = &Connector{ID: "conn-2", UserID: "user-1", Provider: ProviderGoogle, Status: StatusActive}

	rpc := &fakeRPCClient{revokeErr: errors.New("enclave unreachable")}
	svc := NewService(store, rpc, testProviders(), testr.New(t))

	revoked, errs := svc.RevokeAllForUser(context.Background(), "user-1")
	require.Equal(t, 0, revoked)
	require.Len(t, errs, 2)
}

func TestService_RevokeAllForUser_SkipsAlreadyRevoked(t *testing.T) {
	store := newFakeStore()
	store.connectors["conn-1"] = &Connector{ID: "conn-1", UserID: "user-1", Provider: ProviderGoogle, Status: StatusRevoked}

	rpc := &fakeRPCClient{}
	svc := NewService(store, rpc, testProviders(), testr.New(t))

	revoked, errs := svc.RevokeAllForUser(context.Background(), "user-1")
	require.Equal(t, 1, revoked)
	require.Empty(t, errs)
	require.Empty(t, rpc.calls, "an already-revoked connector should never trigger an RPC call")
}
