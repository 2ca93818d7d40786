package gmail

import (
	"context"
	"errors"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

type fakeCredentials struct {
	mu          sync.Mutex
	token       string
	err         error
	invalidated int
}

func (f *fakeCredentials) Credential(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeCredentials) Token() (*oauth2.Token, error) {
	tok, err := f.Credential(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

func (f *fakeCredentials) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
}

func TestSessionProvider_CachesHandle(t *testing.T) {
	creds := &fakeCredentials{token: "tok"}
	p := NewSessionProvider(creds)
	ctx := context.Background()

	first, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	second, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if first != second {
		t.Error("Current rebuilt the handle while one was cached")
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed == first {
		t.Error("Refresh returned the stale handle")
	}
}

func TestSessionProvider_Invalidate(t *testing.T) {
	creds := &fakeCredentials{token: "tok"}
	p := NewSessionProvider(creds)
	ctx := context.Background()

	first, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	p.Invalidate()
	if creds.invalidated != 1 {
		t.Errorf("credential invalidated %d times, want 1", creds.invalidated)
	}
	next, err := p.Current(ctx)
	if err != nil {
		t.Fatalf("Current after Invalidate: %v", err)
	}
	if next == first {
		t.Error("Current returned the invalidated handle")
	}
}

func TestSessionProvider_NoCredential(t *testing.T) {
	unavailable := errors.New("credential unavailable")
	p := NewSessionProvider(&fakeCredentials{err: unavailable})

	if _, err := p.Current(context.Background()); !errors.Is(err, unavailable) {
		t.Fatalf("err = %v, want %v", err, unavailable)
	}
}

func TestStaticProvider(t *testing.T) {
	mock := NewMockAPI()
	p := NewStaticProvider(mock)
	ctx := context.Background()

	api, err := p.Current(ctx)
	if err != nil || api != API(mock) {
		t.Fatalf("Current = %v, %v", api, err)
	}
	p.Invalidate()
	if _, err := p.Current(ctx); err != nil {
		t.Fatalf("Current after Invalidate: %v", err)
	}
	if p.RefreshCalls != 1 || p.InvalidateCalls != 1 {
		t.Errorf("refresh=%d invalidate=%d, want 1 and 1", p.RefreshCalls, p.InvalidateCalls)
	}
}
