package service

import (
	"context"
	"errors"
	"time"

	"go.mau.fi/whatsmeow/types"
)

var ErrLookupTimeout = errors.New("whatsapp lookup timeout")

type lookupResult struct {
	exists bool
	err    error
}

// LookupWithTimeout races h.Lookup against timeout. The losing lookup is abandoned,
// not cancelled: whatsmeow has no way to withdraw an in-flight usync query, so it
// keeps running on a context detached from the caller and its result lands in a
// buffered channel nobody reads.
func LookupWithTimeout(ctx context.Context, h Handle, jid types.JID, timeout time.Duration) (bool, error) {
	result := make(chan lookupResult, 1)
	go func() {
		exists, err := h.Lookup(context.WithoutCancel(ctx), jid)
		result <- lookupResult{exists: exists, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-result:
		return r.exists, r.err
	case <-timer.C:
		return false, ErrLookupTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
