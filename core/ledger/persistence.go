package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// walRecord is one JSON line in the write-ahead log, mirroring the teacher's
// core/ledger.go WAL replay shape (NewLedger scans newline-delimited JSON
// records on startup).
type walRecord struct {
	Op     string
	Key    Key
	Amount string
	Nonce  uint64
}

// snapshotEntry is the RLP-encodable on-disk form of an Entry. *big.Int
// fields RLP-encode natively via go-ethereum/rlp, the same library the
// teacher's core/ledger.go uses for block persistence.
type snapshotEntry struct {
	Key                  Key
	Deposit              *big.Int
	OwedToPeer           *big.Int
	OwedFromPeer         *big.Int
	Nonce                uint64
	HighestReceivedNonce uint64
}

// Store persists ledger state to a WAL file plus periodic snapshots, and
// replays the WAL on open (§4.6 crash recovery).
type Store struct {
	mu       sync.Mutex
	dir      string
	walFile  *os.File
	snapPath string
}

// OpenStore opens (creating if necessary) the WAL and snapshot files under
// dir, matching core/ledger.go's OpenLedger(path) convention of treating the
// path as a directory containing `ledger.snap` and `ledger.wal`.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ledger: mkdir %s: %w", dir, err)
	}
	walPath := filepath.Join(dir, "channel_ledger.wal")
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open WAL: %w", err)
	}
	return &Store{dir: dir, walFile: f, snapPath: filepath.Join(dir, "channel_ledger.snap")}, nil
}

// Close closes the underlying WAL file handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.walFile.Close()
}

func (s *Store) appendWAL(rec walRecord) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	enc = append(enc, '\n')
	_, err = s.walFile.Write(enc)
	return err
}

// WriteSnapshot atomically persists entries via write-temp-then-rename.
func (s *Store) WriteSnapshot(entries []snapshotEntry) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return fmt.Errorf("ledger: rlp encode snapshot: %w", err)
	}
	tmp := s.snapPath + ".tmp"
	if err := os.WriteFile(tmp, enc, 0o600); err != nil {
		return fmt.Errorf("ledger: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	// The snapshot now captures full state, so the WAL only needs to record
	// mutations from this point forward — truncate it rather than replaying
	// the same records twice on the next restart.
	if err := s.walFile.Truncate(0); err != nil {
		return fmt.Errorf("ledger: truncate WAL: %w", err)
	}
	_, err = s.walFile.Seek(0, 0)
	return err
}

// LoadSnapshot reads the latest persisted snapshot, or returns (nil, nil) if
// none exists yet.
func (s *Store) LoadSnapshot() ([]snapshotEntry, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := os.ReadFile(s.snapPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: read snapshot: %w", err)
	}
	var entries []snapshotEntry
	if err := rlp.DecodeBytes(raw, &entries); err != nil {
		return nil, fmt.Errorf("ledger: rlp decode snapshot: %w", err)
	}
	return entries, nil
}

// ReplayWAL replays WAL records in order, applying each via apply. Any
// in-flight settlement at the time of a crash is considered unknown and left
// to the settlement worker's normal retry path (§4.6).
func (s *Store) ReplayWAL(apply func(walRecord)) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.walFile.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(s.walFile)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("ledger: WAL unmarshal: %w", err)
		}
		apply(rec)
	}
	if _, err := s.walFile.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

func (l *Ledger) appendWAL(rec walRecord) {
	if err := l.persist.appendWAL(rec); err != nil {
		logComponent.WithField("error", err).Warn("ledger: WAL append failed")
	}
}

func (l *Ledger) snapshotNow() {
	if l.persist == nil {
		return
	}
	l.mu.RLock()
	entries := make([]snapshotEntry, 0, len(l.entries))
	for k, le := range l.entries {
		le.mu.Lock()
		entries = append(entries, snapshotEntry{
			Key:                  k,
			Deposit:              new(big.Int).Set(le.entry.Deposit),
			OwedToPeer:           new(big.Int).Set(le.entry.OwedToPeer),
			OwedFromPeer:         new(big.Int).Set(le.entry.OwedFromPeer),
			Nonce:                le.entry.Nonce,
			HighestReceivedNonce: le.entry.HighestReceivedNonce,
		})
		le.mu.Unlock()
	}
	l.mu.RUnlock()
	if err := l.persist.WriteSnapshot(entries); err != nil {
		logComponent.WithField("error", err).Warn("ledger: snapshot write failed")
	}
}

// Restore reloads the latest snapshot then replays the WAL on top of it,
// rebuilding in-memory entries (§4.6 crash recovery: "on restart, it reloads
// the latest snapshot... any in-flight settlement is considered unknown and
// retried").
func (l *Ledger) Restore() error {
	if l.persist == nil {
		return nil
	}
	snap, err := l.persist.LoadSnapshot()
	if err != nil {
		return err
	}
	for _, se := range snap {
		le := l.entryFor(se.Key)
		le.mu.Lock()
		le.entry.Deposit = se.Deposit
		le.entry.OwedToPeer = se.OwedToPeer
		le.entry.OwedFromPeer = se.OwedFromPeer
		le.entry.Nonce = se.Nonce
		le.entry.HighestReceivedNonce = se.HighestReceivedNonce
		le.mu.Unlock()
	}
	return l.persist.ReplayWAL(func(rec walRecord) {
		// WAL entries after the snapshot bring state fully current; amounts
		// are re-derived idempotently by replaying the same mutation logic
		// used live, skipping settlement-queue side effects (those resume
		// naturally once the node is healthy again).
		switch rec.Op {
		case "forward_accepted":
			amt, ok := new(big.Int).SetString(rec.Amount, 10)
			if !ok {
				return
			}
			le := l.entryFor(rec.Key)
			le.mu.Lock()
			le.entry.OwedToPeer = new(big.Int).Add(le.entry.OwedToPeer, amt)
			le.mu.Unlock()
		case "settlement_succeeded":
			amt, ok := new(big.Int).SetString(rec.Amount, 10)
			if !ok {
				return
			}
			le := l.entryFor(rec.Key)
			le.mu.Lock()
			le.entry.OwedToPeer = new(big.Int).Sub(le.entry.OwedToPeer, amt)
			if le.entry.OwedToPeer.Sign() < 0 {
				le.entry.OwedToPeer.SetInt64(0)
			}
			le.entry.SettlementPending = false
			le.mu.Unlock()
		}
	})
}
