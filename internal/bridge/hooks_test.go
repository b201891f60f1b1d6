package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/12jason0/DoNa-sub000/internal/purchase"
)

type recordingSDK struct {
	mu      sync.Mutex
	logins  []string
	logouts int
	err     error
}

func (s *recordingSDK) Offerings(context.Context) ([]purchase.Package, error) { return nil, nil }

func (s *recordingSDK) Purchase(context.Context, purchase.Package) (purchase.Transaction, error) {
	return purchase.Transaction{}, nil
}

func (s *recordingSDK) LogIn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins = append(s.logins, id)
	return s.err
}

func (s *recordingSDK) LogOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	return s.err
}

type recordingPush struct {
	mu    sync.Mutex
	calls [][3]string
}

func (p *recordingPush) RegisterPushToken(_ context.Context, userID, token, platform string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, [3]string{userID, token, platform})
	return nil
}

func TestSessionHooksLoggedIn(t *testing.T) {
	sdk := &recordingSDK{}
	push := &recordingPush{}
	h := &SessionHooks{SDK: sdk, Platform: &fakePlatform{pushToken: "ptok"}, Push: push}

	ctx, cancel := context.WithCancel(context.Background())
	h.LoggedIn(ctx, "u1")
	// hook work outlives the caller's context
	cancel()
	h.Wait()

	assert.Equal(t, []string{"u1"}, sdk.logins)
	if assert.Len(t, push.calls, 1) {
		assert.Equal(t, "u1", push.calls[0][0])
		assert.Equal(t, "ptok", push.calls[0][1])
		assert.NotEmpty(t, push.calls[0][2])
	}
}

func TestSessionHooksSkipsEmptyPushToken(t *testing.T) {
	push := &recordingPush{}
	h := &SessionHooks{Platform: &fakePlatform{}, Push: push}
	h.LoggedIn(context.Background(), "u1")
	h.Wait()
	assert.Empty(t, push.calls)
}

func TestSessionHooksSDKErrorDoesNotStopPush(t *testing.T) {
	sdk := &recordingSDK{err: errors.New("offline")}
	push := &recordingPush{}
	h := &SessionHooks{SDK: sdk, Platform: &fakePlatform{pushToken: "p"}, Push: push}
	h.LoggedIn(context.Background(), "u2")
	h.Wait()
	assert.Len(t, push.calls, 1)
}

func TestSessionHooksLoggedOut(t *testing.T) {
	sdk := &recordingSDK{}
	h := &SessionHooks{SDK: sdk}
	h.LoggedOut(context.Background())
	h.Wait()
	assert.Equal(t, 1, sdk.logouts)

	// no SDK configured
	(&SessionHooks{}).LoggedOut(context.Background())
}
