package notify

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// MockConnection is a test double for the Connection interface.
type MockConnection struct {
	mutex   sync.Mutex
	sent    []*Packet
	sendErr error
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, &Packet{MsgID: msgID, Data: data, Length: uint16(len(data))})
	return nil
}
func (m *MockConnection) Close() error                        { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadPacket() (*Packet, error)        { return nil, nil }

func (m *MockConnection) Sent() []*Packet {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*Packet(nil), m.sent...)
}

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, "user-1", &MockConnection{})

	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	manager.Remove(sessionID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	_, exists = manager.Get(sessionID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByUserID(t *testing.T) {
	manager := NewManager()

	manager.Add(NewSession("session1", "alice", &MockConnection{}))
	manager.Add(NewSession("session2", "bob", &MockConnection{}))
	manager.Add(NewSession("session3", "alice", &MockConnection{}))

	if got := len(manager.GetByUserID("alice")); got != 2 {
		t.Errorf("Expected 2 sessions for alice, got %d", got)
	}
	if got := len(manager.GetByUserID("bob")); got != 1 {
		t.Errorf("Expected 1 session for bob, got %d", got)
	}
	if got := len(manager.GetByUserID("carol")); got != 0 {
		t.Errorf("Expected 0 sessions for carol, got %d", got)
	}
}

func TestSession_SendTouches(t *testing.T) {
	sess := NewSession("s", "alice", &MockConnection{})
	before := sess.LastActive()
	time.Sleep(time.Millisecond)

	if err := sess.Send(MsgTypeHeartbeat, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !sess.LastActive().After(before) {
		t.Error("Send should update LastActive")
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p, err := DecodePacket(EncodePacket(MsgTypeGameResult, []byte(`{"ok":true}`)))
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if p.MsgID != MsgTypeGameResult || string(p.Data) != `{"ok":true}` {
		t.Errorf("Unexpected packet: %+v", p)
	}

	if _, err := DecodePacket([]byte{0, 1}); err == nil {
		t.Error("Expected error for short packet")
	}
	if _, err := DecodePacket([]byte{0, 1, 0, 9, 1}); err == nil {
		t.Error("Expected error for truncated payload")
	}
}

func TestHub_NotifyNoSession(t *testing.T) {
	hub := NewHub(0)
	err := hub.Notify(context.Background(), Notification{UserID: "nobody"})
	if !errors.Is(err, ErrNoRecipient) {
		t.Errorf("Expected ErrNoRecipient, got %v", err)
	}
}

func TestHub_EvictsIdleSessions(t *testing.T) {
	hub := NewHub(10 * time.Millisecond)
	defer hub.Shutdown()

	hub.sessions.Add(NewSession("s1", "alice", &MockConnection{}))
	if hub.Online() != 1 {
		t.Fatalf("Expected 1 session, got %d", hub.Online())
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Online() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Idle session was not evicted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
