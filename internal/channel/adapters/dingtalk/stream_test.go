package dingtalk

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// fakeCardAPI records card operations in call order.
type fakeCardAPI struct {
	mu          sync.Mutex
	calls       []string
	createErr   error
	deliverErr  error
	inputingErr error
	updateErr   error
}

func (f *fakeCardAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCardAPI) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCardAPI) Create(ctx context.Context, outTrackID string) error {
	f.record("create")
	return f.createErr
}

func (f *fakeCardAPI) Deliver(ctx context.Context, outTrackID string, addr replyAddress) error {
	f.record("deliver")
	return f.deliverErr
}

func (f *fakeCardAPI) StartInputing(ctx context.Context, outTrackID string) error {
	f.record("inputing")
	return f.inputingErr
}

func (f *fakeCardAPI) StreamUpdate(ctx context.Context, outTrackID, content string, finalize bool) error {
	if finalize {
		f.record("finalize:" + content)
	} else {
		f.record("update:" + content)
	}
	return f.updateErr
}

func TestCardStreamOrdersSnapshots(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{}
	cs := newCardStream(api, nil)
	ctx := context.Background()

	for _, snapshot := range []string{"a", "ab", "abc"} {
		if err := cs.Push(ctx, snapshot); err != nil {
			t.Fatalf("Push(%q): %v", snapshot, err)
		}
	}
	cs.Finalize(ctx, "abc")

	want := []string{"inputing", "update:a", "update:ab", "update:abc", "finalize:abc"}
	got := api.recorded()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestCardStreamTypingTransitionHappensOnce(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{}
	cs := newCardStream(api, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_ = cs.Push(ctx, fmt.Sprintf("snap-%d", i))
		}()
	}
	wg.Wait()

	calls := api.recorded()
	if len(calls) == 0 || calls[0] != "inputing" {
		t.Fatalf("first call = %v, want inputing", calls)
	}
	inputings := 0
	for _, call := range calls {
		if call == "inputing" {
			inputings++
		}
	}
	if inputings != 1 {
		t.Fatalf("typing transition ran %d times, want 1", inputings)
	}
}

func TestCardStreamDropsPushAfterFinalize(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{}
	cs := newCardStream(api, nil)
	ctx := context.Background()

	if err := cs.Push(ctx, "a"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	cs.Finalize(ctx, "final")
	if err := cs.Push(ctx, "late"); err != nil {
		t.Fatalf("late Push: %v", err)
	}

	for _, call := range api.recorded() {
		if call == "update:late" {
			t.Fatal("snapshot after finalize reached the card")
		}
	}
}

func TestCardStreamFinalizeIsMonotonic(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{}
	cs := newCardStream(api, nil)
	ctx := context.Background()

	cs.Finalize(ctx, "one")
	cs.Finalize(ctx, "two")

	finalizes := 0
	for _, call := range api.recorded() {
		if call == "finalize:one" || call == "finalize:two" {
			finalizes++
		}
	}
	if finalizes != 1 {
		t.Fatalf("terminal update sent %d times, want 1", finalizes)
	}
}

func TestCardStreamSwallowsUpdateErrors(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{updateErr: fmt.Errorf("rate limited")}
	cs := newCardStream(api, nil)
	ctx := context.Background()

	if err := cs.Push(ctx, "a"); err != nil {
		t.Fatalf("Push surfaced update error: %v", err)
	}
	if err := cs.Push(ctx, "ab"); err != nil {
		t.Fatalf("Push after failed update: %v", err)
	}
	cs.Finalize(ctx, "ab")
}

func TestCardStreamOpenFailsOnCreateError(t *testing.T) {
	t.Parallel()

	api := &fakeCardAPI{createErr: fmt.Errorf("template missing")}
	cs := newCardStream(api, nil)
	if err := cs.open(context.Background(), replyAddress{}); err == nil {
		t.Fatal("open succeeded despite create failure")
	}
	for _, call := range api.recorded() {
		if call == "deliver" {
			t.Fatal("deliver attempted after failed create")
		}
	}
}
