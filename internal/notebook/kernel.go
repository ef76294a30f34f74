package notebook

import (
	"sync"

	"github.com/google/uuid"
)

// ConnectionStatus is a kernel connection state.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// StatusChange is emitted on every kernel connection-status transition.
type StatusChange struct {
	Kernel *Kernel
	Status ConnectionStatus
}

// Kernel identifies one execution backend and reports its connection state.
type Kernel struct {
	id string

	mu     sync.RWMutex
	status ConnectionStatus

	statusChanged Signal[StatusChange]
}

// NewKernel returns a disconnected kernel with a fresh id.
func NewKernel() *Kernel {
	return &Kernel{id: uuid.NewString(), status: StatusDisconnected}
}

func (k *Kernel) ID() string { return k.id }

func (k *Kernel) Status() ConnectionStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.status
}

// SetStatus records s and notifies listeners, even when unchanged.
func (k *Kernel) SetStatus(s ConnectionStatus) {
	k.mu.Lock()
	k.status = s
	k.mu.Unlock()
	k.statusChanged.Emit(StatusChange{Kernel: k, Status: s})
}

// StatusChanged is the connection-status event source.
func (k *Kernel) StatusChanged() *Signal[StatusChange] { return &k.statusChanged }

// Session binds a view to a kernel. It becomes ready asynchronously.
type Session struct {
	name   string
	kernel *Kernel
	ready  chan struct{}
	once   sync.Once
}

// NewSession returns a session that is not ready yet.
func NewSession(name string, kernel *Kernel) *Session {
	return &Session{name: name, kernel: kernel, ready: make(chan struct{})}
}

func (s *Session) Name() string    { return s.name }
func (s *Session) Kernel() *Kernel { return s.kernel }

// Ready is closed once the session is usable.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// MarkReady closes Ready. Safe to call more than once.
func (s *Session) MarkReady() {
	s.once.Do(func() { close(s.ready) })
}
