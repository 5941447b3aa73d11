package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
)

var testJID = types.NewJID("15551234567", types.DefaultUserServer)

func TestLookupWithTimeoutResult(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		err     error
		wantErr bool
	}{
		{"registered", true, nil, false},
		{"not registered", false, nil, false},
		{"lookup error", false, errors.New("iq failed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &fakeHandle{lookup: func(ctx context.Context, jid types.JID) (bool, error) {
				require.Equal(t, testJID, jid)
				return tt.exists, tt.err
			}}
			exists, err := LookupWithTimeout(context.Background(), h, testJID, time.Second)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.exists, exists)
		})
	}
}

func TestLookupWithTimeoutAbandonsSlowLookup(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 1)
	h := &fakeHandle{lookup: func(ctx context.Context, jid types.JID) (bool, error) {
		<-release
		finished <- ctx.Err()
		return true, nil
	}}

	start := time.Now()
	exists, err := LookupWithTimeout(context.Background(), h, testJID, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrLookupTimeout)
	require.False(t, exists)
	require.Less(t, time.Since(start), time.Second)

	// late result is swallowed by the buffered channel
	close(release)
	select {
	case err := <-finished:
		// the abandoned lookup keeps a live context
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("abandoned lookup never completed")
	}
}

func TestLookupWithTimeoutCallerCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := &fakeHandle{lookup: func(ctx context.Context, jid types.JID) (bool, error) {
		<-release
		return true, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LookupWithTimeout(ctx, h, testJID, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
