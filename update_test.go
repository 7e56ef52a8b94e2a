package syncache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	tr "github.com/unkn0wn-root/syncache/transport"
)

// manifestTransport serves a manifest document and asset payloads.
func manifestTransport(manifest string, assets map[string]string) *fakeTransport {
	return newFakeTransport(func(req tr.Request) (tr.Response, error) {
		if req.Key == "/manifest.json" {
			return tr.Response{Payload: []byte(manifest)}, nil
		}
		if body, ok := assets[req.Key]; ok {
			return tr.Response{Payload: []byte(body)}, nil
		}
		return tr.Response{}, &tr.Error{Kind: tr.KindRejected, Status: 404, Err: errors.New("not found")}
	})
}

func TestUpdateCheckPrefetchActivate(t *testing.T) {
	ctx := context.Background()
	ft := manifestTransport(
		`{"generation":2,"assets":["/assets/app.js","/assets/app.css"]}`,
		map[string]string{
			"/assets/app.js":  "js-v2",
			"/assets/app.css": "css-v2",
		})
	c, hooks := newTestClient(t, ft, nil)

	// the active generation keeps serving its copy during prefetch
	ft.setHandler(respondWith("js-v1"))
	if _, err := c.Request(ctx, "/assets/app.js"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	ft.setHandler(manifestTransport(
		`{"generation":2,"assets":["/assets/app.js","/assets/app.css"]}`,
		map[string]string{
			"/assets/app.js":  "js-v2",
			"/assets/app.css": "css-v2",
		}).handler)

	var mu sync.Mutex
	var announced []Update
	cancel := c.OnUpdate(func(u Update) {
		mu.Lock()
		announced = append(announced, u)
		mu.Unlock()
	})
	defer cancel()

	ok, err := c.CheckForUpdate(ctx)
	if err != nil || !ok {
		t.Fatalf("CheckForUpdate: ok=%v err=%v", ok, err)
	}

	mu.Lock()
	if len(announced) != 1 || announced[0].Generation != 2 || len(announced[0].Assets) != 2 {
		t.Fatalf("announced = %+v", announced)
	}
	mu.Unlock()

	// not yet activated: the old copy still serves, no network needed
	got, err := c.Request(ctx, "/assets/app.js")
	if err != nil || string(got) != "js-v1" {
		t.Fatalf("pre-activation: %q, %v", got, err)
	}

	if err := c.ActivateNewGeneration(ctx); err != nil {
		t.Fatalf("ActivateNewGeneration: %v", err)
	}
	got, err = c.Request(ctx, "/assets/app.js")
	if err != nil || string(got) != "js-v2" {
		t.Fatalf("post-activation: %q, %v", got, err)
	}
	got, err = c.Request(ctx, "/assets/app.css")
	if err != nil || string(got) != "css-v2" {
		t.Fatalf("prefetched sibling: %q, %v", got, err)
	}

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if len(hooks.available) != 1 || hooks.available[0] != 2 {
		t.Fatalf("available = %v", hooks.available)
	}
	if len(hooks.activated) != 1 || hooks.activated[0] != 2 {
		t.Fatalf("activated = %v", hooks.activated)
	}
}

func TestUpdatePrefetchSurvivesCapacityPressure(t *testing.T) {
	ctx := context.Background()
	assets := map[string]string{
		"/assets/a.js":  "a-v1",
		"/assets/b.js":  "b-v1",
		"/assets/c.css": "c-v1",
		"/assets/d.css": "d-v1",
		"/assets/e.png": "e-v1",
	}
	ft := manifestTransport(
		`{"generation":1,"assets":["/assets/a.js","/assets/b.js","/assets/c.css","/assets/d.css","/assets/e.png"]}`,
		assets)
	// bounds far below the incoming generation's size
	c, _ := newTestClient(t, ft, func(o *Options) { o.MaxEntries = 2 })

	ok, err := c.CheckForUpdate(ctx)
	if err != nil || !ok {
		t.Fatalf("CheckForUpdate: ok=%v err=%v", ok, err)
	}
	if err := c.ActivateNewGeneration(ctx); err != nil {
		t.Fatalf("ActivateNewGeneration: %v", err)
	}

	// an announced generation is complete: every asset serves from cache,
	// none was evicted during prefetch and refetched here
	for key, want := range assets {
		got, err := c.Request(ctx, key)
		if err != nil || string(got) != want {
			t.Fatalf("%s: %q, %v", key, got, err)
		}
		if n := ft.count(http.MethodGet, key); n != 1 {
			t.Fatalf("%s fetched %d times, want 1 (prefetch only)", key, n)
		}
	}
}

func TestUpdateNoopWhenManifestNotNewer(t *testing.T) {
	ctx := context.Background()
	ft := manifestTransport(`{"generation":0,"assets":[]}`, nil)
	c, _ := newTestClient(t, ft, nil)

	ok, err := c.CheckForUpdate(ctx)
	if err != nil || ok {
		t.Fatalf("CheckForUpdate: ok=%v err=%v", ok, err)
	}
	if err := c.ActivateNewGeneration(ctx); !errors.Is(err, ErrNoPendingGeneration) {
		t.Fatalf("activate without pending: %v", err)
	}
}

func TestUpdateAbortsOnPrefetchFailure(t *testing.T) {
	ctx := context.Background()
	ft := manifestTransport(
		`{"generation":3,"assets":["/assets/app.js","/assets/missing.js"]}`,
		map[string]string{"/assets/app.js": "js-v3"})
	c, _ := newTestClient(t, ft, nil)

	if _, err := c.CheckForUpdate(ctx); err == nil {
		t.Fatal("expected prefetch failure")
	}
	// a half-fetched generation is never offered for activation
	if err := c.ActivateNewGeneration(ctx); !errors.Is(err, ErrNoPendingGeneration) {
		t.Fatalf("activate after aborted prefetch: %v", err)
	}
}

func TestUpdateBadManifestIsPermanent(t *testing.T) {
	ctx := context.Background()
	calls := 0
	var mu sync.Mutex
	ft := newFakeTransport(func(req tr.Request) (tr.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return tr.Response{Payload: []byte("not json")}, nil
	})
	c, _ := newTestClient(t, ft, nil)

	if _, err := c.CheckForUpdate(ctx); err == nil {
		t.Fatal("expected manifest decode error")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("manifest fetches = %d, want 1 (decode errors are not retried)", calls)
	}
}

func TestUpdateManifestPollDisabledByDefault(t *testing.T) {
	ft := manifestTransport(`{"generation":1,"assets":[]}`, nil)
	c, _ := newTestClient(t, ft, nil)
	_ = c

	if n := ft.count(http.MethodGet, "/manifest.json"); n != 0 {
		t.Fatalf("unexpected manifest polls: %d", n)
	}
}
