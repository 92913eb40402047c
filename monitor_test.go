package moodmash

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitForPolls blocks until the message endpoint has been polled twice more
// than before, so the first poll's snapshot has been taken.
func waitForPolls(t *testing.T, f *fakeServer, before int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for f.requestCount(getMessagesKey) < before+2 {
		if time.Now().After(deadline) {
			t.Fatal("monitor never polled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type received struct {
	conv *Conversation
	msg  MessageDisplay
}

func collect(ch chan<- received) MessageCallback {
	return func(conv *Conversation, msg MessageDisplay) {
		ch <- received{conv, msg}
	}
}

func TestMessageMonitor(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	alice := newReadyClient(t, f, "alice")
	bob := newReadyClient(t, f, "bob")
	carol := newReadyClient(t, f, "carol")

	if _, err := mustConversation(t, bob, "alice").Send(ctx, "old news", nil); err != nil {
		t.Fatal(err)
	}

	mon := alice.MonitorMessages()
	fromBob := make(chan received, 4)
	all := make(chan received, 4)
	mon.OnMessage("bob", collect(fromBob))
	mon.OnMessage("", collect(all))

	polls := f.requestCount(getMessagesKey)
	if err := mon.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer mon.Stop()
	if !mon.Running() {
		t.Error("Running() = false after Start")
	}
	waitForPolls(t, f, polls)

	if _, err := mustConversation(t, carol, "alice").Send(ctx, "from carol", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mustConversation(t, bob, "alice").Send(ctx, "from bob", nil); err != nil {
		t.Fatal(err)
	}
	// Outgoing messages are not reported.
	if _, err := mustConversation(t, alice, "bob").Send(ctx, "from alice", nil); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	var got []received
	for len(got) < 2 {
		select {
		case r := <-all:
			got = append(got, r)
		case <-timeout:
			t.Fatalf("received %d messages, want 2", len(got))
		}
	}
	senders := map[string]string{}
	for _, r := range got {
		if r.msg.Status != MessageStatusDelivered || r.msg.Outgoing {
			t.Errorf("message = %+v", r.msg)
		}
		if r.conv.RecipientID() != r.msg.Sender {
			t.Errorf("conversation %q for message from %q", r.conv.RecipientID(), r.msg.Sender)
		}
		senders[r.msg.Sender] = r.msg.Content
	}
	if senders["bob"] != "from bob" || senders["carol"] != "from carol" {
		t.Errorf("received %v", senders)
	}

	select {
	case r := <-fromBob:
		if r.msg.Content != "from bob" {
			t.Errorf("bob subscription got %q", r.msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("bob subscription got nothing")
	}
	select {
	case r := <-fromBob:
		t.Errorf("bob subscription got extra message %+v", r.msg)
	case r := <-all:
		t.Errorf("unexpected message %+v", r.msg)
	default:
	}

	// The conversation records what the monitor delivered.
	found := false
	for _, m := range mustConversation(t, alice, "carol").Messages() {
		if m.Content == "from carol" {
			found = true
		}
	}
	if !found {
		t.Error("monitored message missing from conversation")
	}
}

func TestMessageMonitor_Unsubscribe(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()
	alice := newReadyClient(t, f, "alice")
	bob := newReadyClient(t, f, "bob")

	mon := alice.MonitorMessages()
	var mu sync.Mutex
	var dropped []string
	sub := mon.OnMessage("bob", func(_ *Conversation, m MessageDisplay) {
		mu.Lock()
		dropped = append(dropped, m.Content)
		mu.Unlock()
	})
	kept := make(chan received, 2)
	mon.OnMessage("bob", collect(kept))
	sub.Unsubscribe()
	sub.Unsubscribe()

	polls := f.requestCount(getMessagesKey)
	if err := mon.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mon.Stop()
	waitForPolls(t, f, polls)

	if _, err := mustConversation(t, bob, "alice").Send(ctx, "hello", nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-kept:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining subscription got nothing")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 0 {
		t.Errorf("unsubscribed callback called with %v", dropped)
	}
}

func TestMessageMonitor_StartErrors(t *testing.T) {
	f := newFakeServer(t)
	ctx := context.Background()

	noKeys := newTestClient(t, f, "alice")
	if err := noKeys.MonitorMessages().Start(ctx); !errors.Is(err, ErrKeysUnavailable) {
		t.Errorf("Start() without keys error = %v, want ErrKeysUnavailable", err)
	}

	signedOut, err := New("bob", "")
	if err != nil {
		t.Fatal(err)
	}
	defer signedOut.Close()
	if err := signedOut.MonitorMessages().Start(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Start() signed out error = %v, want ErrNotAuthenticated", err)
	}

	ready := newReadyClient(t, f, "carol")
	mon := ready.MonitorMessages()
	if err := mon.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mon.Start(ctx); !errors.Is(err, ErrMonitorRunning) {
		t.Errorf("second Start() error = %v, want ErrMonitorRunning", err)
	}
	if err := mon.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if mon.Running() {
		t.Error("Running() = true after Stop")
	}
	if err := mon.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	// Locked sessions can still receive.
	if err := ready.KeyManager().ClearEncryptionKey(ctx); err != nil {
		t.Fatal(err)
	}
	if err := mon.Start(ctx); err != nil {
		t.Errorf("Start() while locked error = %v", err)
	}
	ready.Close()
	if err := mon.Stop(); err != nil {
		t.Errorf("Stop() after Close error = %v", err)
	}
	if err := mon.Start(ctx); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClientClosed", err)
	}
}

func TestSubscriptionManager(t *testing.T) {
	m := newSubscriptionManager()
	var calls []string
	record := func(tag string) MessageCallback {
		return func(_ *Conversation, msg MessageDisplay) { calls = append(calls, tag+":"+msg.ID) }
	}

	unsubBob := m.subscribe("bob", record("bob"))
	m.subscribe(anyPeer, record("any"))
	if m.len() != 2 {
		t.Fatalf("len() = %d, want 2", m.len())
	}

	m.notify("carol", nil, MessageDisplay{ID: "1"})
	m.notify("bob", nil, MessageDisplay{ID: "2"})
	unsubBob()
	m.notify("bob", nil, MessageDisplay{ID: "3"})

	want := map[string]bool{"any:1": true, "bob:2": true, "any:2": true, "any:3": true}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for _, c := range calls {
		if !want[c] {
			t.Errorf("unexpected call %s", c)
		}
	}

	m.clear()
	if m.len() != 0 {
		t.Errorf("len() after clear = %d", m.len())
	}
}
