package moodmash

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// anyPeer is the subscription key for callbacks interested in every peer.
const anyPeer = ""

// subscription represents an active message subscription.
type subscription struct {
	id       string
	peerID   string
	callback MessageCallback
	active   atomic.Bool
}

// subscriptionManager tracks message callbacks per peer. Callbacks are never
// invoked after their unsubscribe returns.
type subscriptionManager struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // peerID -> subID -> subscription
	nextID atomic.Uint64
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{
		subs: make(map[string]map[string]*subscription),
	}
}

// subscribe registers callback for messages from peerID, or from everyone
// when peerID is anyPeer. The returned func unsubscribes.
func (m *subscriptionManager) subscribe(peerID string, callback MessageCallback) func() {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{
		id:       id,
		peerID:   peerID,
		callback: callback,
	}
	sub.active.Store(true)

	m.mu.Lock()
	if m.subs[peerID] == nil {
		m.subs[peerID] = make(map[string]*subscription)
	}
	m.subs[peerID][id] = sub
	m.mu.Unlock()

	return func() {
		m.unsubscribe(peerID, id)
	}
}

// unsubscribe removes a subscription. Safe to call multiple times.
func (m *subscriptionManager) unsubscribe(peerID, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peerSubs, ok := m.subs[peerID]; ok {
		if sub, ok := peerSubs[subID]; ok {
			sub.active.Store(false)
			delete(peerSubs, subID)
			if len(peerSubs) == 0 {
				delete(m.subs, peerID)
			}
		}
	}
}

// notify calls the callbacks for peerID and the catch-all callbacks,
// outside the lock.
func (m *subscriptionManager) notify(peerID string, conv *Conversation, msg MessageDisplay) {
	m.mu.RLock()
	var subs []*subscription
	for _, key := range []string{peerID, anyPeer} {
		for _, sub := range m.subs[key] {
			subs = append(subs, sub)
		}
		if peerID == anyPeer {
			break
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.callback(conv, msg)
		}
	}
}

// len returns the number of active subscriptions.
func (m *subscriptionManager) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, peerSubs := range m.subs {
		n += len(peerSubs)
	}
	return n
}

// clear removes all subscriptions.
func (m *subscriptionManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, peerSubs := range m.subs {
		for _, sub := range peerSubs {
			sub.active.Store(false)
		}
	}
	m.subs = make(map[string]map[string]*subscription)
}
