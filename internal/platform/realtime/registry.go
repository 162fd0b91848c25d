// Package realtime tracks live socket connections and fans events out to
// them. The registry is the single in-process source of truth for who is
// connected where; it holds no durable state and is rebuilt from scratch as
// clients reconnect after a restart.
package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rehab/rehab/pkg/apperror"
)

// Conn abstracts the write side of a socket connection for testability.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// connection is one physical socket. Owned exclusively by the registry for
// its lifetime; connection ids are never reused.
type connection struct {
	id     uuid.UUID
	userID uuid.UUID
	conn   Conn
	rooms  map[uuid.UUID]struct{}
	notify bool
}

// Registry is the process-wide session registry. Three views over the same
// set of live connections are kept consistent under one lock: by user, by
// (conversation, user), and by notification subscription. Removal updates
// all of them as a single logical operation.
type Registry struct {
	logger zerolog.Logger

	mu          sync.RWMutex
	running     bool
	connections map[uuid.UUID]*connection                         // connection id -> connection
	byUser      map[uuid.UUID]map[uuid.UUID]*connection           // user id -> connection id -> connection
	rooms       map[uuid.UUID]map[uuid.UUID]map[uuid.UUID]*connection // conversation id -> user id -> connection id
	notifySubs  map[uuid.UUID]map[uuid.UUID]*connection           // user id -> connection id
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:      logger,
		connections: make(map[uuid.UUID]*connection),
		byUser:      make(map[uuid.UUID]map[uuid.UUID]*connection),
		rooms:       make(map[uuid.UUID]map[uuid.UUID]map[uuid.UUID]*connection),
		notifySubs:  make(map[uuid.UUID]map[uuid.UUID]*connection),
	}
}

// Start makes the registry accept connections. Tied to process startup.
func (r *Registry) Start() {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
}

// Stop closes every live connection and clears all indices. Connections
// arriving after Stop are rejected.
func (r *Registry) Stop() {
	r.mu.Lock()
	conns := make([]*connection, 0, len(r.connections))
	for _, c := range r.connections {
		conns = append(conns, c)
	}
	r.connections = make(map[uuid.UUID]*connection)
	r.byUser = make(map[uuid.UUID]map[uuid.UUID]*connection)
	r.rooms = make(map[uuid.UUID]map[uuid.UUID]map[uuid.UUID]*connection)
	r.notifySubs = make(map[uuid.UUID]map[uuid.UUID]*connection)
	r.running = false
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.conn.Close(); err != nil {
			r.logger.Debug().Err(err).Stringer("connection_id", c.id).Msg("close on shutdown")
		}
	}
}

// Connect registers a new connection for the user and returns its fresh,
// process-unique id. The entry is visible to fan-out immediately.
func (r *Registry) Connect(userID uuid.UUID, conn Conn) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return uuid.Nil, apperror.Internal("session registry is not running", nil)
	}

	c := &connection{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		rooms:  make(map[uuid.UUID]struct{}),
	}

	r.connections[c.id] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uuid.UUID]*connection)
	}
	r.byUser[userID][c.id] = c

	return c.id, nil
}

// JoinRoom subscribes an already-registered connection to a conversation's
// live room.
func (r *Registry) JoinRoom(connID, conversationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connID]
	if !ok {
		return apperror.NotFound("connection %s is not registered", connID)
	}

	c.rooms[conversationID] = struct{}{}
	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[uuid.UUID]map[uuid.UUID]*connection)
	}
	if r.rooms[conversationID][c.userID] == nil {
		r.rooms[conversationID][c.userID] = make(map[uuid.UUID]*connection)
	}
	r.rooms[conversationID][c.userID][connID] = c
	return nil
}

// SubscribeNotifications marks the connection as a notification target.
func (r *Registry) SubscribeNotifications(connID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connID]
	if !ok {
		return apperror.NotFound("connection %s is not registered", connID)
	}

	c.notify = true
	if r.notifySubs[c.userID] == nil {
		r.notifySubs[c.userID] = make(map[uuid.UUID]*connection)
	}
	r.notifySubs[c.userID][connID] = c
	return nil
}

// Disconnect removes the connection from all three indices in one call.
// It is idempotent: a second call, or a call for an id that was never
// registered, is a no-op.
func (r *Registry) Disconnect(userID, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[connID]
	if !ok || c.userID != userID {
		return
	}

	delete(r.connections, connID)

	if set := r.byUser[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}

	for roomID := range c.rooms {
		if users := r.rooms[roomID]; users != nil {
			if set := users[userID]; set != nil {
				delete(set, connID)
				if len(set) == 0 {
					delete(users, userID)
				}
			}
			if len(users) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}

	if c.notify {
		if set := r.notifySubs[userID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.notifySubs, userID)
			}
		}
	}
}

// SendToUser pushes the payload to a snapshot of the user's current
// connections. A failure on one connection is logged and does not abort
// delivery to the others; there is no retry.
func (r *Registry) SendToUser(userID uuid.UUID, payload interface{}) {
	r.mu.RLock()
	snapshot := make([]*connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	r.push(snapshot, payload)
}

// SendToRoom pushes the payload to a snapshot of every connection of every
// participant currently subscribed to the conversation's room.
func (r *Registry) SendToRoom(conversationID uuid.UUID, payload interface{}) {
	r.sendToRoom(conversationID, payload, nil)
}

// SendToRoomExcept is SendToRoom minus one user's connections, used so a
// sender does not receive their own message back.
func (r *Registry) SendToRoomExcept(conversationID uuid.UUID, payload interface{}, exceptUserID uuid.UUID) {
	r.sendToRoom(conversationID, payload, &exceptUserID)
}

func (r *Registry) sendToRoom(conversationID uuid.UUID, payload interface{}, except *uuid.UUID) {
	r.mu.RLock()
	var snapshot []*connection
	for userID, set := range r.rooms[conversationID] {
		if except != nil && userID == *except {
			continue
		}
		for _, c := range set {
			snapshot = append(snapshot, c)
		}
	}
	r.mu.RUnlock()

	r.push(snapshot, payload)
}

// BroadcastAll fans the payload out to every live connection, optionally
// excluding one user. Used only for coarse presence-style announcements.
func (r *Registry) BroadcastAll(payload interface{}, excludeUserID *uuid.UUID) {
	r.mu.RLock()
	snapshot := make([]*connection, 0, len(r.connections))
	for _, c := range r.connections {
		if excludeUserID != nil && c.userID == *excludeUserID {
			continue
		}
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	r.push(snapshot, payload)
}

// push delivers outside the lock. The snapshot may be stale by the time a
// write lands; a racing disconnect surfaces as a write error here and is
// tolerated as best-effort.
func (r *Registry) push(snapshot []*connection, payload interface{}) {
	for _, c := range snapshot {
		if err := c.conn.WriteJSON(payload); err != nil {
			derr := apperror.TransientDelivery("push to connection failed", err)
			r.logger.Warn().
				Err(derr).
				Stringer("connection_id", c.id).
				Stringer("user_id", c.userID).
				Msg("dropped live event")
		}
	}
}

// ActiveUsersInRoom returns the users with at least one live connection
// subscribed to the conversation's room.
func (r *Registry) ActiveUsersInRoom(conversationID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]uuid.UUID, 0, len(r.rooms[conversationID]))
	for userID := range r.rooms[conversationID] {
		users = append(users, userID)
	}
	return users
}

// UserInRoom reports whether the user holds a live room subscription to
// the conversation.
func (r *Registry) UserInRoom(conversationID, userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID][userID]) > 0
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// UserConnectionCount returns the number of live connections for one user.
func (r *Registry) UserConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// NotificationSubscriberCount returns the number of notification-subscribed
// connections for one user.
func (r *Registry) NotificationSubscriberCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifySubs[userID])
}

// checkInvariants verifies that no index references a connection id absent
// from the primary map. Exposed for tests via registry_test.go.
func (r *Registry) checkInvariants() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, set := range r.byUser {
		for connID := range set {
			if _, ok := r.connections[connID]; !ok {
				return fmt.Errorf("byUser[%s] references dead connection %s", userID, connID)
			}
		}
	}
	for roomID, users := range r.rooms {
		for _, set := range users {
			for connID := range set {
				if _, ok := r.connections[connID]; !ok {
					return fmt.Errorf("rooms[%s] references dead connection %s", roomID, connID)
				}
			}
		}
	}
	for userID, set := range r.notifySubs {
		for connID := range set {
			if _, ok := r.connections[connID]; !ok {
				return fmt.Errorf("notifySubs[%s] references dead connection %s", userID, connID)
			}
		}
	}
	return nil
}
