package ratchet

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"golang.org/x/crypto/hkdf"

	"pulse/internal/domain"
	"pulse/internal/util/memzero"
)

const (
	// DefaultMaxSkip bounds how many message keys a receiving chain derives
	// ahead of its position, and how many unused keys it keeps.
	DefaultMaxSkip = 1000

	chainKeySize   = 32
	messageKeySize = 32

	initiatorChainInfo = "pulse|chain|initiator"
	responderChainInfo = "pulse|chain|responder"
	stepInfo           = "pulse|ck"
)

var (
	// ErrReplay is returned for an index whose key was already consumed.
	ErrReplay = fmt.Errorf("%w: message key already used", domain.ErrDecryptionFailure)

	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
)

// InitChains seeds the two directional chains of a session from the X3DH
// root key. The initiator sends on the initiator chain and receives on the
// responder chain; the responder mirrors this.
func InitChains(root []byte, initiator bool) (send, recv domain.ChainKey, err error) {
	if len(root) == 0 {
		return send, recv, errChainUninitialised
	}
	ini, err := expand(root, initiatorChainInfo, chainKeySize)
	if err != nil {
		return send, recv, err
	}
	res, err := expand(root, responderChainInfo, chainKeySize)
	if err != nil {
		return send, recv, err
	}
	if initiator {
		return domain.ChainKey{Key: ini}, domain.ChainKey{Key: res}, nil
	}
	return domain.ChainKey{Key: res}, domain.ChainKey{Key: ini}, nil
}

// DeriveNextKey performs one chain step: it returns the message key for
// ck.Index and the chain positioned at ck.Index+1. The caller owns wiping
// ck.Key once the step is kept.
func DeriveNextKey(ck domain.ChainKey) (mk []byte, next domain.ChainKey, err error) {
	if len(ck.Key) == 0 {
		return nil, next, errChainUninitialised
	}
	if ck.Index == math.MaxUint32 {
		return nil, next, fmt.Errorf("%w: chain exhausted", domain.ErrRatchetOverflow)
	}
	out, err := expand(ck.Key, stepInfo, chainKeySize+messageKeySize)
	if err != nil {
		return nil, next, err
	}
	next = domain.ChainKey{Key: out[:chainKeySize], Index: ck.Index + 1}
	return out[chainKeySize:], next, nil
}

// SkippedKeys derives the message keys for every index in [ck.Index, target)
// and returns them with the chain positioned at target. It refuses to
// derive more than maxSkip keys.
func SkippedKeys(ck domain.ChainKey, target uint32, maxSkip int) (map[uint32][]byte, domain.ChainKey, error) {
	if target <= ck.Index {
		return nil, ck, nil
	}
	if gap := uint64(target - ck.Index); gap > uint64(maxSkip) {
		return nil, ck, fmt.Errorf("%w: %d messages ahead, limit %d", domain.ErrRatchetOverflow, gap, maxSkip)
	}
	keys := make(map[uint32][]byte, target-ck.Index)
	cur := ck
	for cur.Index < target {
		mk, next, err := DeriveNextKey(cur)
		if err != nil {
			wipeKeys(keys)
			return nil, ck, err
		}
		keys[cur.Index] = mk
		if cur.Index != ck.Index {
			memzero.Zero(cur.Key)
		}
		cur = next
	}
	return keys, cur, nil
}

// Engine advances the chains of a SessionState. SessionState is not safe for
// concurrent use; callers serialise access per conversation.
type Engine struct {
	MaxSkip int
}

// New returns an Engine with the given skip bound, or DefaultMaxSkip when
// maxSkip is not positive.
func New(maxSkip int) Engine {
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}
	return Engine{MaxSkip: maxSkip}
}

// NextSendingKey returns the message key for the next outgoing message and
// its index, advancing the sending chain.
func (e Engine) NextSendingKey(st *domain.SessionState) ([]byte, uint32, error) {
	mk, next, err := DeriveNextKey(st.SendingChain)
	if err != nil {
		return nil, 0, err
	}
	index := st.SendingChain.Index
	memzero.Zero(st.SendingChain.Key)
	st.SendingChain = next
	return mk, index, nil
}

// Step is a provisional receiving-chain advance. Nothing in the session
// changes until Commit, so a message that fails authentication leaves the
// chain where it was.
type Step struct {
	MessageKey []byte

	st        *domain.SessionState
	index     uint32
	chain     domain.ChainKey
	skipped   map[uint32][]byte
	fromCache bool
	maxSkip   int
	done      bool
}

// ReceivingKey returns the step that yields the message key for index.
func (e Engine) ReceivingKey(st *domain.SessionState, index uint32) (*Step, error) {
	maxSkip := e.MaxSkip
	if maxSkip <= 0 {
		maxSkip = DefaultMaxSkip
	}
	if index < st.ReceivingChain.Index {
		mk, ok := st.SkippedKeys[index]
		if !ok {
			return nil, fmt.Errorf("%w (index %d)", ErrReplay, index)
		}
		return &Step{
			MessageKey: append([]byte(nil), mk...),
			st:         st,
			index:      index,
			fromCache:  true,
			maxSkip:    maxSkip,
		}, nil
	}

	skipped, chain, err := SkippedKeys(st.ReceivingChain, index, maxSkip)
	if err != nil {
		return nil, err
	}
	mk, next, err := DeriveNextKey(chain)
	if err != nil {
		wipeKeys(skipped)
		return nil, err
	}
	if chain.Index != st.ReceivingChain.Index {
		memzero.Zero(chain.Key)
	}
	return &Step{
		MessageKey: mk,
		st:         st,
		index:      index,
		chain:      next,
		skipped:    skipped,
		maxSkip:    maxSkip,
	}, nil
}

// Commit applies the step to its session and wipes the consumed key.
func (s *Step) Commit() {
	if s.done {
		return
	}
	s.done = true
	defer memzero.Zero(s.MessageKey)

	if s.fromCache {
		if mk, ok := s.st.SkippedKeys[s.index]; ok {
			memzero.Zero(mk)
			delete(s.st.SkippedKeys, s.index)
		}
		return
	}

	memzero.Zero(s.st.ReceivingChain.Key)
	s.st.ReceivingChain = s.chain
	if len(s.skipped) > 0 && s.st.SkippedKeys == nil {
		s.st.SkippedKeys = make(map[uint32][]byte, len(s.skipped))
	}
	for idx, mk := range s.skipped {
		s.st.SkippedKeys[idx] = mk
	}
	evictOldest(s.st.SkippedKeys, s.maxSkip)
}

// Discard drops the step without touching the session.
func (s *Step) Discard() {
	if s.done {
		return
	}
	s.done = true
	if s.fromCache {
		memzero.Zero(s.MessageKey)
		return
	}
	memzero.ZeroAll(s.MessageKey, s.chain.Key)
	wipeKeys(s.skipped)
}

// evictOldest keeps at most limit skipped keys, dropping the lowest indices.
func evictOldest(keys map[uint32][]byte, limit int) {
	if len(keys) <= limit {
		return
	}
	idx := make([]uint32, 0, len(keys))
	for i := range keys {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx[:len(idx)-limit] {
		memzero.Zero(keys[i])
		delete(keys, i)
	}
}

func wipeKeys(keys map[uint32][]byte) {
	for i, mk := range keys {
		memzero.Zero(mk)
		delete(keys, i)
	}
}

func expand(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}
