package link

import (
	"fmt"
	"sync"

	"github.com/robotalks/tripcomm/pkg/link/frame"
)

// BufKey identifies a buffer, or an execute action when Type holds an action
// type.
type BufKey struct {
	Type frame.BufType
	ID   uint16
}

// String implements fmt.Stringer.
func (k BufKey) String() string {
	return fmt.Sprintf("%d/%d", k.Type, k.ID)
}

// Provider supplies the payload of a buffer read immediately.
type Provider interface {
	// Len returns the current payload length.
	Len() int
	// Fill copies the payload into p, which holds at least Len bytes, and
	// returns the number of bytes written.
	Fill(p []byte) int
}

// Writable consumes the payload of a write request.
// The payload is only valid during the call.
type Writable interface {
	Store(payload []byte) frame.AckCode
}

// DoneFunc reports the completion of an asynchronous operation. It may be
// called from any goroutine, exactly once.
type DoneFunc func(data []byte, err error)

// DelayedProvider supplies a buffer whose retrieval is asynchronous. The data
// passed to done is sent later as a write-response.
type DelayedProvider interface {
	Start(done DoneFunc) frame.AckCode
}

// Action is executed synchronously by an execute-with-ack request.
type Action interface {
	Execute(arg []byte) frame.AckCode
}

// AsyncAction is started by an execute-with-check request. The argument is
// only valid during the call.
type AsyncAction interface {
	Start(arg []byte, done DoneFunc) frame.AckCode
}

// ProviderFunc is the func form of a fixed Provider.
type ProviderFunc func() []byte

// Len implements Provider.
func (f ProviderFunc) Len() int {
	return len(f())
}

// Fill implements Provider.
func (f ProviderFunc) Fill(p []byte) int {
	return copy(p, f())
}

// StoreFunc is the func form of Writable.
type StoreFunc func(payload []byte) frame.AckCode

// Store implements Writable.
func (f StoreFunc) Store(payload []byte) frame.AckCode {
	return f(payload)
}

// ActionFunc is the func form of Action.
type ActionFunc func(arg []byte) frame.AckCode

// Execute implements Action.
func (f ActionFunc) Execute(arg []byte) frame.AckCode {
	return f(arg)
}

// Registry maps buffer keys to the providers serving them.
type Registry struct {
	providers map[BufKey]Provider
	writables map[BufKey]Writable
	delayed   map[BufKey]DelayedProvider
	actions   map[BufKey]Action
	async     map[BufKey]AsyncAction
	types     map[frame.BufType]bool
	lock      sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[BufKey]Provider),
		writables: make(map[BufKey]Writable),
		delayed:   make(map[BufKey]DelayedProvider),
		actions:   make(map[BufKey]Action),
		async:     make(map[BufKey]AsyncAction),
		types:     make(map[frame.BufType]bool),
	}
}

// Provide registers a Provider for read-now requests and telemetry.
func (r *Registry) Provide(typ frame.BufType, id uint16, p Provider) *Registry {
	r.lock.Lock()
	r.providers[BufKey{Type: typ, ID: id}] = p
	r.types[typ] = true
	r.lock.Unlock()
	return r
}

// Accept registers a Writable for write requests.
func (r *Registry) Accept(typ frame.BufType, id uint16, w Writable) *Registry {
	r.lock.Lock()
	r.writables[BufKey{Type: typ, ID: id}] = w
	r.types[typ] = true
	r.lock.Unlock()
	return r
}

// ProvideDelayed registers a DelayedProvider for read-later requests.
func (r *Registry) ProvideDelayed(typ frame.BufType, id uint16, p DelayedProvider) *Registry {
	r.lock.Lock()
	r.delayed[BufKey{Type: typ, ID: id}] = p
	r.types[typ] = true
	r.lock.Unlock()
	return r
}

// Handle registers an Action for execute-with-ack requests.
func (r *Registry) Handle(act frame.BufType, id uint16, a Action) *Registry {
	r.lock.Lock()
	r.actions[BufKey{Type: act, ID: id}] = a
	r.lock.Unlock()
	return r
}

// HandleAsync registers an AsyncAction for execute-with-check requests.
func (r *Registry) HandleAsync(act frame.BufType, id uint16, a AsyncAction) *Registry {
	r.lock.Lock()
	r.async[BufKey{Type: act, ID: id}] = a
	r.lock.Unlock()
	return r
}

// Provider looks up a Provider.
func (r *Registry) Provider(key BufKey) (Provider, frame.AckCode) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	p, ok := r.providers[key]
	return p, r.missing(ok, key.Type)
}

// Writable looks up a Writable.
func (r *Registry) Writable(key BufKey) (Writable, frame.AckCode) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	w, ok := r.writables[key]
	return w, r.missing(ok, key.Type)
}

// DelayedProvider looks up a DelayedProvider.
func (r *Registry) DelayedProvider(key BufKey) (DelayedProvider, frame.AckCode) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	p, ok := r.delayed[key]
	return p, r.missing(ok, key.Type)
}

// Action looks up an Action.
func (r *Registry) Action(key BufKey) (Action, frame.AckCode) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if a, ok := r.actions[key]; ok {
		return a, frame.Ack
	}
	return nil, frame.NakCmdInvalid
}

// AsyncAction looks up an AsyncAction.
func (r *Registry) AsyncAction(key BufKey) (AsyncAction, frame.AckCode) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if a, ok := r.async[key]; ok {
		return a, frame.Ack
	}
	return nil, frame.NakCmdInvalid
}

func (r *Registry) missing(found bool, typ frame.BufType) frame.AckCode {
	switch {
	case found:
		return frame.Ack
	case r.types[typ]:
		return frame.NakBufInvalid
	default:
		return frame.NakBufTypeInvalid
	}
}
