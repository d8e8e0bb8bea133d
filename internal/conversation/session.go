package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/hurricanerix/tagweave/internal/logging"
	"github.com/hurricanerix/tagweave/internal/textgen"
)

const (
	// SessionInactivityTimeout is how long a chat can be inactive before cleanup.
	SessionInactivityTimeout = 24 * time.Hour

	// SessionCleanupInterval is how often to run cleanup.
	SessionCleanupInterval = 1 * time.Hour

	// MaxSessions is the maximum number of chats before LRU eviction.
	MaxSessions = 1000
)

// chatInfo tracks a chat, its lock and its last activity time.
type chatInfo struct {
	mu           sync.Mutex
	manager      *Manager
	lastActivity time.Time
}

// SessionManager provides thread-safe management of chat transcripts and
// tracks which chat is active.
//
// Chats are cleaned up after 24 hours of inactivity by a background
// goroutine; the active chat is never cleaned up or evicted. Call Shutdown
// to stop the goroutine.
type SessionManager struct {
	mu            sync.RWMutex
	chats         map[string]*chatInfo
	active        string
	logger        *logging.Logger
	cancelCleanup context.CancelFunc
	cleanupDone   chan struct{}
}

// NewSessionManager creates an empty session manager and starts its
// cleanup goroutine. logger may be nil.
func NewSessionManager(logger *logging.Logger) *SessionManager {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sm := &SessionManager{
		chats:         make(map[string]*chatInfo),
		logger:        logger,
		cancelCleanup: cancel,
		cleanupDone:   make(chan struct{}),
	}

	go sm.cleanupLoop(ctx)

	return sm
}

// getOrCreate returns the chat for chatID, creating it if needed, and
// updates its activity time.
func (sm *SessionManager) getOrCreate(chatID string) *chatInfo {
	now := time.Now()

	sm.mu.RLock()
	if info, ok := sm.chats[chatID]; ok {
		sm.mu.RUnlock()
		info.mu.Lock()
		info.lastActivity = now
		info.mu.Unlock()
		return info
	}
	sm.mu.RUnlock()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Another goroutine may have created it while we waited.
	if info, ok := sm.chats[chatID]; ok {
		return info
	}

	if len(sm.chats) >= MaxSessions {
		sm.evictLRU()
	}

	info := &chatInfo{
		manager:      NewManager(),
		lastActivity: now,
	}
	sm.chats[chatID] = info
	return info
}

// with runs fn on the chat's manager while holding the chat lock.
func (sm *SessionManager) with(chatID string, fn func(m *Manager)) {
	info := sm.getOrCreate(chatID)
	info.mu.Lock()
	defer info.mu.Unlock()
	fn(info.manager)
}

// Activate makes chatID the active chat.
func (sm *SessionManager) Activate(chatID string) {
	sm.getOrCreate(chatID)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active != chatID {
		sm.logger.Debug("active chat changed from %q to %q", sm.active, chatID)
	}
	sm.active = chatID
}

// Active returns the active chat ID, or "" if none has been activated.
func (sm *SessionManager) Active() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.active
}

// Append adds msg to the chat and returns its index.
func (sm *SessionManager) Append(chatID string, msg Message) int {
	var idx int
	sm.with(chatID, func(m *Manager) {
		idx = m.Append(msg)
	})
	return idx
}

// History returns a copy of the chat's messages.
func (sm *SessionManager) History(chatID string) []Message {
	var history []Message
	sm.with(chatID, func(m *Manager) {
		history = m.History()
	})
	return history
}

// Context returns the chat as text-generation history, limited to the
// most recent limit messages (limit <= 0 means all).
func (sm *SessionManager) Context(chatID string, limit int) []textgen.Message {
	var msgs []textgen.Message
	sm.with(chatID, func(m *Manager) {
		msgs = m.BuildContext(limit)
	})
	return msgs
}

// SetImpersonateInput records the latest impersonation input for the chat.
func (sm *SessionManager) SetImpersonateInput(chatID, input string) {
	sm.with(chatID, func(m *Manager) {
		m.SetImpersonateInput(input)
	})
}

// ImpersonateInput returns the latest impersonation input for the chat.
func (sm *SessionManager) ImpersonateInput(chatID string) string {
	var input string
	sm.with(chatID, func(m *Manager) {
		input = m.ImpersonateInput()
	})
	return input
}

// Delete removes the chat. If it was active, no chat is active afterwards.
func (sm *SessionManager) Delete(chatID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.chats, chatID)
	if sm.active == chatID {
		sm.active = ""
	}
}

// Count returns the number of chats held.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.chats)
}

// Shutdown stops the cleanup goroutine and waits for it to finish.
func (sm *SessionManager) Shutdown() {
	if sm.cancelCleanup != nil {
		sm.cancelCleanup()
		<-sm.cleanupDone
	}
}

// cleanupLoop runs periodically to remove inactive chats.
func (sm *SessionManager) cleanupLoop(ctx context.Context) {
	defer close(sm.cleanupDone)

	ticker := time.NewTicker(SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupInactive(time.Now())
		}
	}
}

// cleanupInactive removes chats inactive since before now minus
// SessionInactivityTimeout.
func (sm *SessionManager) cleanupInactive(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for chatID, info := range sm.chats {
		if chatID == sm.active {
			continue
		}
		info.mu.Lock()
		stale := now.Sub(info.lastActivity) > SessionInactivityTimeout
		info.mu.Unlock()
		if stale {
			delete(sm.chats, chatID)
			removed++
		}
	}

	if removed > 0 {
		sm.logger.Info("Cleaned up %d inactive chats (total: %d)", removed, len(sm.chats))
	}
}

// evictLRU removes the least recently used chat other than the active one.
// Must be called with sm.mu held for writing.
func (sm *SessionManager) evictLRU() {
	var oldestID string
	var oldestTime time.Time

	for chatID, info := range sm.chats {
		if chatID == sm.active {
			continue
		}
		info.mu.Lock()
		last := info.lastActivity
		info.mu.Unlock()
		if oldestID == "" || last.Before(oldestTime) {
			oldestID = chatID
			oldestTime = last
		}
	}

	if oldestID != "" {
		delete(sm.chats, oldestID)
		sm.logger.Info("Evicted LRU chat %s (was inactive for %v)", oldestID, time.Since(oldestTime))
	}
}
