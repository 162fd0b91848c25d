package realtime

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeConn struct {
	mu      sync.Mutex
	writes  []interface{}
	failErr error
	closed  bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zerolog.New(os.Stderr).Level(zerolog.Disabled))
	r.Start()
	return r
}

func TestConnectDisconnect_NoLeaks(t *testing.T) {
	r := newTestRegistry(t)
	userID := uuid.New()
	roomID := uuid.New()

	conn := &fakeConn{}
	connID, err := r.Connect(userID, conn)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := r.JoinRoom(connID, roomID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if err := r.SubscribeNotifications(connID); err != nil {
		t.Fatalf("SubscribeNotifications: %v", err)
	}

	r.Disconnect(userID, connID)

	if n := r.ConnectionCount(); n != 0 {
		t.Errorf("connections remaining: %d", n)
	}
	if n := r.UserConnectionCount(userID); n != 0 {
		t.Errorf("user connections remaining: %d", n)
	}
	if n := len(r.ActiveUsersInRoom(roomID)); n != 0 {
		t.Errorf("room members remaining: %d", n)
	}
	if n := r.NotificationSubscriberCount(userID); n != 0 {
		t.Errorf("notification subscribers remaining: %d", n)
	}
	if err := r.checkInvariants(); err != nil {
		t.Errorf("invariant violation: %v", err)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	userID := uuid.New()

	connID, err := r.Connect(userID, &fakeConn{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r.Disconnect(userID, connID)
	r.Disconnect(userID, connID)
	r.Disconnect(uuid.New(), uuid.New())

	if err := r.checkInvariants(); err != nil {
		t.Errorf("invariant violation: %v", err)
	}
}

func TestConnect_RejectedWhenStopped(t *testing.T) {
	r := NewRegistry(zerolog.New(os.Stderr).Level(zerolog.Disabled))
	if _, err := r.Connect(uuid.New(), &fakeConn{}); err == nil {
		t.Fatal("expected error before Start")
	}

	r.Start()
	r.Stop()
	if _, err := r.Connect(uuid.New(), &fakeConn{}); err == nil {
		t.Fatal("expected error after Stop")
	}
}

func TestJoinRoom_UnknownConnection(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.JoinRoom(uuid.New(), uuid.New()); err == nil {
		t.Fatal("expected error for unregistered connection")
	}
	if err := r.SubscribeNotifications(uuid.New()); err == nil {
		t.Fatal("expected error for unregistered connection")
	}
}

func TestSendToUser_AllConnections(t *testing.T) {
	r := newTestRegistry(t)
	userID := uuid.New()
	other := uuid.New()

	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	r.Connect(userID, c1)
	r.Connect(userID, c2)
	r.Connect(other, c3)

	r.SendToUser(userID, NewNotificationCountEvent(3))

	if c1.writeCount() != 1 || c2.writeCount() != 1 {
		t.Errorf("expected both target connections to receive, got %d and %d", c1.writeCount(), c2.writeCount())
	}
	if c3.writeCount() != 0 {
		t.Errorf("other user's connection received %d writes", c3.writeCount())
	}
}

func TestSendToRoom_FailureDoesNotAbortFanout(t *testing.T) {
	r := newTestRegistry(t)
	roomID := uuid.New()

	bad := &fakeConn{failErr: errors.New("broken pipe")}
	good := &fakeConn{}

	badID, _ := r.Connect(uuid.New(), bad)
	goodID, _ := r.Connect(uuid.New(), good)
	r.JoinRoom(badID, roomID)
	r.JoinRoom(goodID, roomID)

	r.SendToRoom(roomID, NewTypingEvent(roomID, uuid.New(), true))

	if good.writeCount() != 1 {
		t.Errorf("healthy connection received %d writes, want 1", good.writeCount())
	}
}

func TestSendToRoomExcept_SkipsSender(t *testing.T) {
	r := newTestRegistry(t)
	roomID := uuid.New()
	sender := uuid.New()
	recipient := uuid.New()

	senderConn, recipientConn := &fakeConn{}, &fakeConn{}
	senderID, _ := r.Connect(sender, senderConn)
	recipientID, _ := r.Connect(recipient, recipientConn)
	r.JoinRoom(senderID, roomID)
	r.JoinRoom(recipientID, roomID)

	r.SendToRoomExcept(roomID, NewTypingEvent(roomID, sender, true), sender)

	if senderConn.writeCount() != 0 {
		t.Errorf("sender received %d writes, want 0", senderConn.writeCount())
	}
	if recipientConn.writeCount() != 1 {
		t.Errorf("recipient received %d writes, want 1", recipientConn.writeCount())
	}
}

func TestBroadcastAll_Exclude(t *testing.T) {
	r := newTestRegistry(t)
	excluded := uuid.New()
	included := uuid.New()

	ex, in := &fakeConn{}, &fakeConn{}
	r.Connect(excluded, ex)
	r.Connect(included, in)

	r.BroadcastAll(NewNotificationCountEvent(0), &excluded)

	if ex.writeCount() != 0 {
		t.Errorf("excluded user received %d writes", ex.writeCount())
	}
	if in.writeCount() != 1 {
		t.Errorf("included user received %d writes, want 1", in.writeCount())
	}
}

func TestActiveUsersInRoom_DedupesConnections(t *testing.T) {
	r := newTestRegistry(t)
	roomID := uuid.New()
	userID := uuid.New()

	id1, _ := r.Connect(userID, &fakeConn{})
	id2, _ := r.Connect(userID, &fakeConn{})
	r.JoinRoom(id1, roomID)
	r.JoinRoom(id2, roomID)

	users := r.ActiveUsersInRoom(roomID)
	if len(users) != 1 || users[0] != userID {
		t.Fatalf("active users = %v, want exactly [%s]", users, userID)
	}

	// The user stays active while any of their connections remains.
	r.Disconnect(userID, id1)
	if !r.UserInRoom(roomID, userID) {
		t.Error("user should still be in room with one connection left")
	}
	r.Disconnect(userID, id2)
	if r.UserInRoom(roomID, userID) {
		t.Error("user should leave room after last connection drops")
	}
}

func TestStop_ClosesConnections(t *testing.T) {
	r := newTestRegistry(t)
	conn := &fakeConn{}
	r.Connect(uuid.New(), conn)

	r.Stop()

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("expected connection to be closed on Stop")
	}
	if n := r.ConnectionCount(); n != 0 {
		t.Errorf("connections remaining after Stop: %d", n)
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := newTestRegistry(t)
	roomID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			userID := uuid.New()
			for j := 0; j < 50; j++ {
				connID, err := r.Connect(userID, &fakeConn{})
				if err != nil {
					t.Errorf("Connect: %v", err)
					return
				}
				r.JoinRoom(connID, roomID)
				r.SendToRoom(roomID, NewTypingEvent(roomID, userID, true))
				r.Disconnect(userID, connID)
			}
		}()
	}
	wg.Wait()

	if n := r.ConnectionCount(); n != 0 {
		t.Errorf("connections remaining: %d", n)
	}
	if err := r.checkInvariants(); err != nil {
		t.Errorf("invariant violation: %v", err)
	}
}
