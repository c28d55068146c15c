package observability

import (
	"sync"
	"sync/atomic"
)

type RejectReason string

const (
	RejectReasonBlacklisted    RejectReason = "blacklisted"
	RejectReasonNotWhitelisted RejectReason = "not_whitelisted"
	RejectReasonTempBanned     RejectReason = "temp_banned"
	RejectReasonConnRate       RejectReason = "conn_rate"
	RejectReasonServerFull     RejectReason = "server_full"
)

type CloseReason string

const (
	CloseReasonQuit        CloseReason = "quit"
	CloseReasonReadError   CloseReason = "read_error"
	CloseReasonWriteError  CloseReason = "write_error"
	CloseReasonReadTimeout CloseReason = "read_timeout"
	CloseReasonIdle        CloseReason = "idle"
	CloseReasonReplaced    CloseReason = "replaced"
	CloseReasonAuthFailed  CloseReason = "auth_failed"
	CloseReasonProtocol    CloseReason = "protocol"
	CloseReasonKicked      CloseReason = "kicked"
	CloseReasonShutdown    CloseReason = "shutdown"
)

type DropReason string

const (
	DropReasonFrameTooLarge    DropReason = "frame_too_large"
	DropReasonParseError       DropReason = "parse_error"
	DropReasonUnknownType      DropReason = "unknown_type"
	DropReasonUnknownRecipient DropReason = "unknown_recipient"
	DropReasonUnknownChannel   DropReason = "unknown_channel"
	DropReasonFieldTooLong     DropReason = "field_too_long"
	DropReasonNotPermitted     DropReason = "not_permitted"
	DropReasonNotInChannel     DropReason = "not_in_channel"
	DropReasonModerated        DropReason = "moderated"
	DropReasonBanned           DropReason = "banned"
	DropReasonBadTransfer      DropReason = "bad_transfer"
)

type AuthOutcome string

const (
	AuthOutcomeOK             AuthOutcome = "ok"
	AuthOutcomeBadCredentials AuthOutcome = "bad_credentials"
	AuthOutcomeLocked         AuthOutcome = "locked"
	AuthOutcomeDisabled       AuthOutcome = "disabled"
	AuthOutcomeRequired       AuthOutcome = "required"
)

type LimitScope string

const (
	LimitScopeMessages    LimitScope = "messages"
	LimitScopeChunks      LimitScope = "chunks"
	LimitScopeConnections LimitScope = "connections"
)

// BrokerObserver receives broker-level metric events. Implementations
// must be safe for concurrent use; the broker emits events outside its
// own locks.
type BrokerObserver interface {
	ConnCount(n int64)
	ChannelCount(n int)
	ConnAccepted()
	ConnRejected(reason RejectReason)
	ConnClosed(reason CloseReason)
	SessionRegistered()
	EnvelopeRead(envType string, bytes int)
	EnvelopeWritten(envType string, bytes int)
	EnvelopeDropped(reason DropReason)
	QueueEnqueued()
	QueueDelivered(n int)
	QueueExpired(n int)
	QueueDropped()
	ChannelCreated()
	ChannelJoined()
	ChannelLeft()
	Auth(outcome AuthOutcome)
	RateLimited(scope LimitScope)
	RouteCacheHit()
	RouteCacheMiss()
}

type noopBrokerObserver struct{}

func (noopBrokerObserver) ConnCount(int64)             {}
func (noopBrokerObserver) ChannelCount(int)            {}
func (noopBrokerObserver) ConnAccepted()               {}
func (noopBrokerObserver) ConnRejected(RejectReason)   {}
func (noopBrokerObserver) ConnClosed(CloseReason)      {}
func (noopBrokerObserver) SessionRegistered()          {}
func (noopBrokerObserver) EnvelopeRead(string, int)    {}
func (noopBrokerObserver) EnvelopeWritten(string, int) {}
func (noopBrokerObserver) EnvelopeDropped(DropReason)  {}
func (noopBrokerObserver) QueueEnqueued()              {}
func (noopBrokerObserver) QueueDelivered(int)          {}
func (noopBrokerObserver) QueueExpired(int)            {}
func (noopBrokerObserver) QueueDropped()               {}
func (noopBrokerObserver) ChannelCreated()             {}
func (noopBrokerObserver) ChannelJoined()              {}
func (noopBrokerObserver) ChannelLeft()                {}
func (noopBrokerObserver) Auth(AuthOutcome)            {}
func (noopBrokerObserver) RateLimited(LimitScope)      {}
func (noopBrokerObserver) RouteCacheHit()              {}
func (noopBrokerObserver) RouteCacheMiss()             {}

// NoopBrokerObserver is a zero-cost observer used when metrics are disabled.
var NoopBrokerObserver BrokerObserver = noopBrokerObserver{}

// AtomicBrokerObserver swaps its delegate at runtime.
type AtomicBrokerObserver struct {
	once sync.Once
	v    atomic.Value
}

type brokerObserverHolder struct {
	obs BrokerObserver
}

// NewAtomicBrokerObserver returns an initialized atomic observer.
func NewAtomicBrokerObserver() *AtomicBrokerObserver {
	a := &AtomicBrokerObserver{}
	a.once.Do(func() { a.v.Store(&brokerObserverHolder{obs: NoopBrokerObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicBrokerObserver) Set(obs BrokerObserver) {
	if obs == nil {
		obs = NoopBrokerObserver
	}
	a.once.Do(func() { a.v.Store(&brokerObserverHolder{obs: NoopBrokerObserver}) })
	a.v.Store(&brokerObserverHolder{obs: obs})
}

func (a *AtomicBrokerObserver) load() BrokerObserver {
	a.once.Do(func() { a.v.Store(&brokerObserverHolder{obs: NoopBrokerObserver}) })
	return a.v.Load().(*brokerObserverHolder).obs
}

func (a *AtomicBrokerObserver) ConnCount(n int64)  { a.load().ConnCount(n) }
func (a *AtomicBrokerObserver) ChannelCount(n int) { a.load().ChannelCount(n) }
func (a *AtomicBrokerObserver) ConnAccepted()      { a.load().ConnAccepted() }
func (a *AtomicBrokerObserver) ConnRejected(reason RejectReason) {
	a.load().ConnRejected(reason)
}
func (a *AtomicBrokerObserver) ConnClosed(reason CloseReason) { a.load().ConnClosed(reason) }
func (a *AtomicBrokerObserver) SessionRegistered()            { a.load().SessionRegistered() }
func (a *AtomicBrokerObserver) EnvelopeRead(envType string, bytes int) {
	a.load().EnvelopeRead(envType, bytes)
}
func (a *AtomicBrokerObserver) EnvelopeWritten(envType string, bytes int) {
	a.load().EnvelopeWritten(envType, bytes)
}
func (a *AtomicBrokerObserver) EnvelopeDropped(reason DropReason) {
	a.load().EnvelopeDropped(reason)
}
func (a *AtomicBrokerObserver) QueueEnqueued()           { a.load().QueueEnqueued() }
func (a *AtomicBrokerObserver) QueueDelivered(n int)     { a.load().QueueDelivered(n) }
func (a *AtomicBrokerObserver) QueueExpired(n int)       { a.load().QueueExpired(n) }
func (a *AtomicBrokerObserver) QueueDropped()            { a.load().QueueDropped() }
func (a *AtomicBrokerObserver) ChannelCreated()          { a.load().ChannelCreated() }
func (a *AtomicBrokerObserver) ChannelJoined()           { a.load().ChannelJoined() }
func (a *AtomicBrokerObserver) ChannelLeft()             { a.load().ChannelLeft() }
func (a *AtomicBrokerObserver) Auth(outcome AuthOutcome) { a.load().Auth(outcome) }
func (a *AtomicBrokerObserver) RateLimited(scope LimitScope) {
	a.load().RateLimited(scope)
}
func (a *AtomicBrokerObserver) RouteCacheHit()  { a.load().RouteCacheHit() }
func (a *AtomicBrokerObserver) RouteCacheMiss() { a.load().RouteCacheMiss() }
