package service

import (
	"sort"
	"sync"
)

// SessionRegistry indexes connections by user and session.
//
// Lock order is registry then connection. Callers must not hold a
// connection's lock while calling a mutating registry method.
type SessionRegistry interface {
	// Get returns the named session, or the user's default one when
	// sessionID is empty.
	Get(userID, sessionID string) (*Connection, bool)
	// Put stores conn, releasing the transport of any record it replaces.
	Put(conn *Connection)
	// Claim stores conn unless a live (non terminated) record exists for the
	// same key, in which case that record is returned and claimed is false.
	Claim(conn *Connection) (existing *Connection, claimed bool)
	Remove(userID, sessionID string) (*Connection, bool)
	// RemoveConn removes conn only if it is still the stored record.
	RemoveConn(conn *Connection) bool
	ListSessionIDs(userID string) []string
	DefaultSessionID(userID string) string
	IsDefault(userID, sessionID string) bool
	All() []*Connection
}

type userSessions struct {
	sessions  map[string]*Connection
	defaultID string
}

type MemoryRegistry struct {
	mu    sync.RWMutex
	users map[string]*userSessions
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{users: make(map[string]*userSessions)}
}

func (r *MemoryRegistry) Get(userID, sessionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	if sessionID == "" {
		sessionID = us.defaultID
	}
	conn, ok := us.sessions[sessionID]
	return conn, ok
}

func (r *MemoryRegistry) Put(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(conn)
}

func (r *MemoryRegistry) Claim(conn *Connection) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if us, ok := r.users[conn.Key.UserID]; ok {
		if existing, ok := us.sessions[conn.Key.SessionID]; ok && existing != conn && existing.State() != StateTerminated {
			return existing, false
		}
	}
	r.putLocked(conn)
	return conn, true
}

func (r *MemoryRegistry) putLocked(conn *Connection) {
	us, ok := r.users[conn.Key.UserID]
	if !ok {
		us = &userSessions{sessions: make(map[string]*Connection)}
		r.users[conn.Key.UserID] = us
	}
	if prev, ok := us.sessions[conn.Key.SessionID]; ok && prev != conn {
		delete(us.sessions, conn.Key.SessionID)
		prev.release()
	}
	us.sessions[conn.Key.SessionID] = conn
	if us.defaultID == "" || conn.Key.SessionID == DefaultSessionID {
		us.defaultID = conn.Key.SessionID
	}
}

func (r *MemoryRegistry) Remove(userID, sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	us, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	conn, ok := us.sessions[sessionID]
	if !ok {
		return nil, false
	}
	r.removeLocked(us, userID, sessionID)
	return conn, true
}

func (r *MemoryRegistry) RemoveConn(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	us, ok := r.users[conn.Key.UserID]
	if !ok {
		return false
	}
	if current, ok := us.sessions[conn.Key.SessionID]; !ok || current != conn {
		return false
	}
	r.removeLocked(us, conn.Key.UserID, conn.Key.SessionID)
	return true
}

func (r *MemoryRegistry) removeLocked(us *userSessions, userID, sessionID string) {
	delete(us.sessions, sessionID)
	if len(us.sessions) == 0 {
		delete(r.users, userID)
		return
	}
	if us.defaultID == sessionID {
		us.defaultID = sortedIDs(us.sessions)[0]
	}
}

func (r *MemoryRegistry) ListSessionIDs(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us, ok := r.users[userID]
	if !ok {
		return []string{}
	}
	return sortedIDs(us.sessions)
}

func (r *MemoryRegistry) DefaultSessionID(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if us, ok := r.users[userID]; ok {
		return us.defaultID
	}
	return ""
}

func (r *MemoryRegistry) IsDefault(userID, sessionID string) bool {
	return sessionID != "" && r.DefaultSessionID(userID) == sessionID
}

func (r *MemoryRegistry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*Connection
	for _, us := range r.users {
		for _, conn := range us.sessions {
			conns = append(conns, conn)
		}
	}
	return conns
}

func sortedIDs(sessions map[string]*Connection) []string {
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
