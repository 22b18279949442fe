package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thisyearnofear/runrealm-sub003/internal/territory"
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrContractNotReady   = errors.New("contract not ready")
	ErrAlreadyMinted      = errors.New("territory already claimed on chain")
)

// Simulator is an in-memory claim backend for development and tests. It can
// be primed with pre-claimed geohashes and one-shot failures.
type Simulator struct {
	chainID int64

	mu       sync.Mutex
	minted   map[string]string // geohash -> tx id
	nextErr  error
	notReady bool
	txSeq    int
}

func NewSimulator(chainID int64) *Simulator {
	return &Simulator{chainID: chainID, minted: map[string]string{}}
}

func (s *Simulator) ChainID() int64 { return s.chainID }

func (s *Simulator) IsGeohashClaimed(_ context.Context, geohash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady {
		return false, ErrContractNotReady
	}
	_, ok := s.minted[geohash]
	return ok, nil
}

func (s *Simulator) ClaimTerritory(_ context.Context, t territory.Territory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextErr != nil {
		err := s.nextErr
		s.nextErr = nil
		return "", err
	}
	if _, ok := s.minted[t.Geohash]; ok {
		return "", ErrAlreadyMinted
	}

	s.txSeq++
	txID := fmt.Sprintf("0xsim%08d", s.txSeq)
	s.minted[t.Geohash] = txID
	return txID, nil
}

// MarkClaimed primes a geohash as already minted.
func (s *Simulator) MarkClaimed(geohash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txSeq++
	s.minted[geohash] = fmt.Sprintf("0xsim%08d", s.txSeq)
}

// FailNextClaim makes the next ClaimTerritory call return err.
func (s *Simulator) FailNextClaim(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// SetNotReady toggles availability-check failures.
func (s *Simulator) SetNotReady(notReady bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = notReady
}
