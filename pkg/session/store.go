package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walletmesh/walletmesh/pkg/chains"
	"github.com/walletmesh/walletmesh/pkg/constants"
	"github.com/walletmesh/walletmesh/pkg/tracker"
)

// WalletSession is the active wallet session. Owned exclusively by the
// Store; mutated only through state machine transitions.
type WalletSession struct {
	Address     string
	ChainID     string
	Balance     string // display units, lazily refreshed
	Status      State
	DisplayName string
}

// Snapshot is the immutable view published to subscribers on every state
// change
type Snapshot struct {
	State       State
	Family      chains.Family
	ChainID     string
	Address     string
	Balance     string
	DisplayName string
}

// Store is the process-wide session state: current chain family, active
// chain, wallet session, and pending transactions. All session mutation
// funnels through the state machine's exclusivity rule.
type Store struct {
	logger    *slog.Logger
	registry  *chains.Registry
	machine   *Machine
	stateFile *StateFile

	balanceInterval time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.RWMutex
	closed        bool
	family        chains.Family
	chainID       string
	session       *WalletSession
	connectors    map[string]chains.Connector
	lastConnector chains.Connector
	trackers      map[chains.Family]*tracker.Tracker
	durables      map[chains.Family]*tracker.DurableTokenStore
	pendingTxs    map[string]*tracker.PendingTransaction
	pendingReqs   map[string]chains.TransactionRequest
	subs          map[uuid.UUID]chan Snapshot
	balanceStop   chan struct{}
}

// Option configures a Store
type Option func(*Store)

// WithStateFile persists the reconnection record at path
func WithStateFile(path string) Option {
	return func(s *Store) { s.stateFile = NewStateFile(path) }
}

// WithBalanceRefreshInterval sets the pull interval for balance refreshes
// while connected
func WithBalanceRefreshInterval(d time.Duration) Option {
	return func(s *Store) { s.balanceInterval = d }
}

// NewStore creates a store over the given registry
func NewStore(registry *chains.Registry, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		logger:          logger,
		registry:        registry,
		machine:         NewMachine(),
		stateFile:       NewStateFile(""),
		balanceInterval: constants.DefaultBalanceRefreshInterval,
		rootCtx:         ctx,
		rootCancel:      cancel,
		connectors:      make(map[string]chains.Connector),
		trackers:        make(map[chains.Family]*tracker.Tracker),
		durables:        make(map[chains.Family]*tracker.DurableTokenStore),
		pendingTxs:      make(map[string]*tracker.PendingTransaction),
		pendingReqs:     make(map[string]chains.TransactionRequest),
		subs:            make(map[uuid.UUID]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open rehydrates the persisted reconnection record: chain family and
// chain id only. Address, balance and keys are re-derived by reconnecting.
func (s *Store) Open() error {
	state, err := s.stateFile.Load()
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	family := chains.Family(state.ChainFamily)
	if !s.registry.IsSupported(family) {
		s.logger.Warn("persisted family no longer supported", "family", state.ChainFamily)
		return nil
	}
	if _, err := s.registry.Chain(string(state.ChainID)); err != nil {
		s.logger.Warn("persisted chain no longer registered", "chain", string(state.ChainID))
		return nil
	}

	s.mu.Lock()
	s.family = family
	s.chainID = string(state.ChainID)
	s.mu.Unlock()

	s.logger.Info("session rehydrated", "family", family, "chain", string(state.ChainID))
	return nil
}

// RegisterConnector makes a connector available under its id
func (s *Store) RegisterConnector(c chains.Connector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectors[c.ID()] = c
}

// UseChain selects the active chain (and its family) for the next connect.
// Only valid while disconnected.
func (s *Store) UseChain(chainID string) error {
	if st := s.machine.State(); st != StateDisconnected {
		return &chains.ConcurrentOperationError{Op: "select chain", InFlight: string(st)}
	}

	descriptor, err := s.registry.Chain(chainID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.family = descriptor.Family
	s.chainID = descriptor.ID
	s.mu.Unlock()
	return nil
}

// State returns the connection state
func (s *Store) State() State {
	return s.machine.State()
}

// LastError returns the error retained by the Error state
func (s *Store) LastError() error {
	return s.machine.Err()
}

// Session returns a copy of the active session, nil when disconnected
func (s *Store) Session() *WalletSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	copied := *s.session
	copied.Status = s.machine.State()
	return &copied
}

// Connect establishes a wallet session through the named connector. A
// second connect while one is in flight fails with
// ConcurrentOperationError.
func (s *Store) Connect(ctx context.Context, connectorID string) (*WalletSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &chains.ConnectionError{
			Connector: connectorID,
			Err:       fmt.Errorf("store is closed"),
		}
	}
	s.wg.Add(1)
	connector, ok := s.connectors[connectorID]
	family := s.family
	chainID := s.chainID
	s.mu.Unlock()
	defer s.wg.Done()
	if !ok {
		return nil, &chains.ConnectionError{
			Connector: connectorID,
			Err:       fmt.Errorf("unknown connector"),
		}
	}
	if family == "" {
		return nil, &chains.ConnectionError{
			Connector: connectorID,
			Err:       fmt.Errorf("no chain selected; call UseChain first"),
		}
	}

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return nil, &chains.ConnectionError{Connector: connectorID, Err: err}
	}

	if err := s.machine.BeginConnect(); err != nil {
		return nil, err
	}
	s.publish()

	ctx, cancel := s.adapterContext(ctx)
	defer cancel()

	account, err := adapter.Connect(ctx, connector)
	s.machine.FinishConnect(err)
	if err != nil {
		s.publish()
		return nil, err
	}

	s.mu.Lock()
	s.lastConnector = connector
	if account.ChainID != "" {
		s.chainID = account.ChainID
	}
	s.session = &WalletSession{
		Address:     account.Address,
		ChainID:     s.chainID,
		Balance:     "0",
		Status:      StateConnected,
		DisplayName: account.DisplayName,
	}
	session := *s.session
	chainID = s.chainID
	s.mu.Unlock()

	if err := s.stateFile.Save(&PersistedState{
		ChainFamily: string(family),
		ChainID:     FlexibleID(chainID),
	}); err != nil {
		s.logger.Warn("failed to persist session state", "error", err)
	}

	s.startBalanceRefresher()
	s.publish()
	return &session, nil
}

// Disconnect tears down the session: adapter resources, pending polls, and
// the persisted record. Idempotent.
func (s *Store) Disconnect(ctx context.Context) error {
	s.stopBalanceRefresher()

	s.mu.RLock()
	family := s.family
	s.mu.RUnlock()

	if family != "" {
		if adapter, err := s.registry.AdapterFor(family); err == nil {
			if err := adapter.Disconnect(ctx); err != nil {
				s.logger.Warn("adapter disconnect failed", "family", family, "error", err)
			}
		}
	}

	s.machine.Disconnect()

	s.mu.Lock()
	s.session = nil
	s.lastConnector = nil
	s.mu.Unlock()

	if err := s.stateFile.Clear(); err != nil {
		s.logger.Warn("failed to clear persisted state", "error", err)
	}

	s.publish()
	return nil
}

// SessionLost handles adapter-reported out-of-band session loss (e.g. the
// wallet revoked access): the session is destroyed without touching the
// adapter.
func (s *Store) SessionLost() {
	s.stopBalanceRefresher()
	s.machine.Disconnect()

	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	s.logger.Warn("session lost")
	s.publish()
}

// SwitchChain moves the session to another chain. Unsupported targets fail
// with UnsupportedChainError and leave the session untouched. Switching
// families tears down the prior family's adapter resources first and
// reconnects with the same connector.
func (s *Store) SwitchChain(ctx context.Context, chainID string) error {
	descriptor, err := s.registry.Chain(chainID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &chains.ConnectionError{Err: fmt.Errorf("store is closed")}
	}
	s.wg.Add(1)
	family := s.family
	connector := s.lastConnector
	s.mu.Unlock()
	defer s.wg.Done()

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return err
	}

	crossFamily := descriptor.Family != family
	if !crossFamily && !adapter.IsChainSupported(chainID) {
		return &chains.UnsupportedChainError{ChainID: chainID, Family: family}
	}
	if crossFamily && connector == nil {
		return &chains.UnsupportedChainError{ChainID: chainID, Family: family}
	}

	if err := s.machine.BeginSwitch(); err != nil {
		return err
	}
	s.publish()

	ctx, cancel := s.adapterContext(ctx)
	defer cancel()

	var account *chains.Account
	if crossFamily {
		next, aerr := s.registry.AdapterFor(descriptor.Family)
		if aerr != nil {
			s.machine.FinishSwitch(aerr)
			s.publish()
			return aerr
		}
		// Tear down the prior family's session before creating the new one
		if derr := adapter.Disconnect(ctx); derr != nil {
			s.logger.Warn("prior adapter disconnect failed", "family", family, "error", derr)
		}
		if serr := next.SwitchChain(ctx, chainID); serr != nil {
			s.machine.FinishSwitch(serr)
			s.publish()
			return serr
		}
		account, err = next.Connect(ctx, connector)
	} else {
		err = adapter.SwitchChain(ctx, chainID)
	}

	s.machine.FinishSwitch(err)
	if err != nil {
		s.publish()
		return err
	}

	s.mu.Lock()
	s.family = descriptor.Family
	s.chainID = descriptor.ID
	if s.session != nil {
		s.session.ChainID = descriptor.ID
		s.session.Balance = "0"
		if account != nil {
			s.session.Address = account.Address
		}
	}
	s.mu.Unlock()

	if err := s.stateFile.Save(&PersistedState{
		ChainFamily: string(descriptor.Family),
		ChainID:     FlexibleID(descriptor.ID),
	}); err != nil {
		s.logger.Warn("failed to persist session state", "error", err)
	}

	s.publish()
	return nil
}

// GetBalance refreshes and returns the session balance in display units
func (s *Store) GetBalance(ctx context.Context) (string, error) {
	s.mu.RLock()
	family := s.family
	chainID := s.chainID
	var address string
	if s.session != nil {
		address = s.session.Address
	}
	s.mu.RUnlock()

	if address == "" {
		return "", &chains.ConnectionError{Err: fmt.Errorf("no connected session")}
	}

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return "", err
	}

	raw, err := adapter.GetBalance(ctx, address)
	if err != nil {
		return "", err
	}

	descriptor, err := s.registry.Chain(chainID)
	if err != nil {
		return "", err
	}
	display, err := formatBalance(raw, descriptor.NativeCurrency.Decimals)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.session != nil {
		s.session.Balance = display
	}
	s.mu.Unlock()

	s.publish()
	return display, nil
}

// SignMessage signs a message with the connected wallet
func (s *Store) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	s.mu.RLock()
	family := s.family
	connected := s.session != nil
	s.mu.RUnlock()
	if !connected {
		return nil, &chains.SigningRejectedError{Err: fmt.Errorf("no connected session")}
	}

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return nil, err
	}
	return adapter.SignMessage(ctx, message)
}

// SubmitTransaction acquires a validity token at the requested commitment
// level, submits the transaction, and tracks it to a terminal status. When
// the request names a nonce account, the durable token store supplies the
// token instead of the rolling queue.
func (s *Store) SubmitTransaction(ctx context.Context, req chains.TransactionRequest, commitment chains.Commitment) (*tracker.PendingTransaction, error) {
	s.mu.RLock()
	family := s.family
	connected := s.session != nil
	s.mu.RUnlock()
	if !connected {
		return nil, &chains.SubmissionError{Err: fmt.Errorf("no connected session")}
	}

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return nil, err
	}
	tr, err := s.trackerFor(family, adapter)
	if err != nil {
		return nil, err
	}

	var token chains.ValidityToken
	if req.NonceAccount != "" {
		ds, err := s.durableFor(family, adapter)
		if err != nil {
			return nil, err
		}
		token, err = ds.Token(ctx, req.NonceAccount)
		if err != nil {
			return nil, err
		}
	} else {
		token, err = tr.AcquireToken(ctx, commitment)
		if err != nil {
			return nil, err
		}
		if err := tr.CheckToken(ctx, token); err != nil {
			return nil, err
		}
	}

	req.Token = token
	id, err := adapter.SubmitTransaction(ctx, &req)
	if err != nil {
		return nil, err
	}

	if req.NonceAccount != "" {
		if ds, derr := s.durableFor(family, adapter); derr == nil {
			ds.MarkSubmitted(req.NonceAccount, token)
		}
	}

	ptx := tr.Track(s.rootCtx, id, token, commitment)

	s.mu.Lock()
	s.pendingTxs[id] = ptx
	s.pendingReqs[id] = req
	s.mu.Unlock()

	return ptx, nil
}

// ResubmitExpired retries an expired transaction with a strictly fresher
// token. Failed transactions are never eligible.
func (s *Store) ResubmitExpired(ctx context.Context, id string) (*tracker.PendingTransaction, error) {
	s.mu.RLock()
	family := s.family
	old, ok := s.pendingTxs[id]
	req, reqOK := s.pendingReqs[id]
	s.mu.RUnlock()
	if !ok || !reqOK {
		return nil, &chains.SubmissionError{TxID: id, Err: fmt.Errorf("unknown transaction")}
	}

	adapter, err := s.registry.AdapterFor(family)
	if err != nil {
		return nil, err
	}
	tr, err := s.trackerFor(family, adapter)
	if err != nil {
		return nil, err
	}

	next, err := tr.Resubmit(ctx, old, func(ctx context.Context, token chains.ValidityToken) (string, error) {
		resend := req
		resend.Token = token
		return adapter.SubmitTransaction(ctx, &resend)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pendingTxs[next.ID] = next
	s.pendingReqs[next.ID] = req
	delete(s.pendingReqs, id)
	s.mu.Unlock()

	return next, nil
}

// Transaction returns a tracked transaction by id
func (s *Store) Transaction(id string) (*tracker.PendingTransaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ptx, ok := s.pendingTxs[id]
	return ptx, ok
}

// Subscribe registers a session-state subscriber. Slow subscribers miss
// intermediate snapshots rather than blocking the store.
func (s *Store) Subscribe() (uuid.UUID, <-chan Snapshot) {
	id := uuid.New()
	ch := make(chan Snapshot, 8)

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (s *Store) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Close tears down the store: cancels in-flight machine operations and
// pending tracker polls, stops the balance refresher, and drops
// subscribers. The persisted record survives for the next startup.
// Idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopBalanceRefresher()
	s.rootCancel()
	s.wg.Wait()

	s.machine.Disconnect()

	s.mu.Lock()
	trackers := make([]*tracker.Tracker, 0, len(s.trackers))
	for _, tr := range s.trackers {
		trackers = append(trackers, tr)
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.session = nil
	s.mu.Unlock()

	for _, tr := range trackers {
		tr.Close()
	}
}

// adapterContext ties an adapter call to both the caller's context and the
// store lifetime, so Close interrupts in-flight operations
func (s *Store) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.rootCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// trackerFor returns the family's tracker, creating it on first use. The
// adapter must expose the token-source capability.
func (s *Store) trackerFor(family chains.Family, adapter chains.ChainAdapter) (*tracker.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr, ok := s.trackers[family]; ok {
		return tr, nil
	}
	source, ok := adapter.(tracker.TokenSource)
	if !ok {
		return nil, fmt.Errorf("adapter for %s does not expose a token source", family)
	}
	tr := tracker.New(source, s.logger)
	s.trackers[family] = tr
	return tr, nil
}

// durableFor returns the family's durable token store, creating it on
// first use
func (s *Store) durableFor(family chains.Family, adapter chains.ChainAdapter) (*tracker.DurableTokenStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds, ok := s.durables[family]; ok {
		return ds, nil
	}
	source, ok := adapter.(tracker.DurableSource)
	if !ok {
		return nil, fmt.Errorf("family %s does not support durable tokens", family)
	}
	ds := tracker.NewDurableTokenStore(source)
	s.durables[family] = ds
	return ds, nil
}

// startBalanceRefresher starts the pull-based balance refresh loop
func (s *Store) startBalanceRefresher() {
	s.stopBalanceRefresher()
	if s.balanceInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.balanceStop = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.balanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(s.rootCtx, constants.DefaultCallTimeout)
				if _, err := s.GetBalance(ctx); err != nil {
					s.logger.Debug("balance refresh failed", "error", err)
				}
				cancel()
			case <-stop:
				return
			case <-s.rootCtx.Done():
				return
			}
		}
	}()
}

func (s *Store) stopBalanceRefresher() {
	s.mu.Lock()
	stop := s.balanceStop
	s.balanceStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// publish fans the current snapshot out to subscribers without blocking.
// The sends happen under the lock: Unsubscribe closes channels under the
// write lock, so a send can never race a close.
func (s *Store) publish() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:   s.machine.State(),
		Family:  s.family,
		ChainID: s.chainID,
	}
	if s.session != nil {
		snap.Address = s.session.Address
		snap.Balance = s.session.Balance
		snap.DisplayName = s.session.DisplayName
	}

	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default: // slow subscriber, drop
		}
	}
}

// formatBalance converts a smallest-unit amount into display units
func formatBalance(raw string, decimals int) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid balance %q: %w", raw, err)
	}
	return d.Shift(int32(-decimals)).String(), nil
}
