// Package storage persists paxos.Mutation values durably before they may
// be acted on: a single LMDB DBI keyed by node id holds a gob-encoded
// snapshot of promised ballot + accepted pvalues, written inside an
// mdbs.RWTxn and confirmed via future.ResultError() before the driver is
// allowed to release the accompanying Outbox.
package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"

	"github.com/erewok/multifaustus/paxos"
)

// DBISettings is the acceptor-snapshot table's registration; callers
// pass it to mdbs.NewMDBServer when opening the environment.
var DBISettings = &mdbs.DBISettings{Flags: mdb.CREATE}

// Store durably persists Acceptor mutations and reloads them on restart.
type Store struct {
	db  *mdbs.MDBServer
	dbi *mdbs.DBISettings
}

// New wraps an already-open MDBServer, addressing the DBI by the same
// *mdbs.DBISettings value registered with it at open time.
func New(db *mdbs.MDBServer, dbi *mdbs.DBISettings) *Store {
	return &Store{db: db, dbi: dbi}
}

type acceptorSnapshot struct {
	Promised paxos.BallotNumber
	Accepted map[paxos.Slot]paxos.PValue
}

// PersistMutation durably writes a Changed Mutation for node self,
// blocking until the write is confirmed. Callers must not deliver the
// Outbox that accompanied the Mutation until this returns nil. A
// Mutation with Changed == false is a no-op; nothing was different.
func (s *Store) PersistMutation(self paxos.NodeId, m paxos.Mutation) error {
	if !m.Changed {
		return nil
	}
	snap := acceptorSnapshot{Promised: m.Promised, Accepted: m.Accepted}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("storage: encode acceptor snapshot for %v: %w", self, err)
	}
	key := nodeKey(self)
	data := buf.Bytes()

	future := s.db.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		rwtxn.Put(s.dbi, key, data, 0)
		return true
	})
	if _, err := future.ResultError(); err != nil {
		return fmt.Errorf("storage: persist acceptor snapshot for %v: %w", self, err)
	}
	return nil
}

// LoadAcceptor reconstructs an Acceptor from its last durable snapshot;
// a restarted acceptor must go through here before handling any message.
// A missing key is not an error: it means this node has never accepted
// anything. A key that fails to decode is an error, and callers must
// refuse to start rather than run with forgotten promises.
func (s *Store) LoadAcceptor(self paxos.NodeId) (*paxos.Acceptor, error) {
	key := nodeKey(self)
	res, err := s.db.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		data, rerr := rtxn.Get(s.dbi, key)
		if rerr == mdb.NotFound {
			return nil
		}
		if rerr != nil {
			rtxn.Error(rerr)
			return nil
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}).ResultError()
	if err != nil {
		return nil, fmt.Errorf("storage: load acceptor snapshot for %v: %w", self, err)
	}
	if res == nil {
		return paxos.NewAcceptor(self), nil
	}
	var snap acceptorSnapshot
	if derr := gob.NewDecoder(bytes.NewReader(res.([]byte))).Decode(&snap); derr != nil {
		return nil, fmt.Errorf("storage: decode acceptor snapshot for %v: %w", self, derr)
	}
	return paxos.RestoreAcceptor(self, snap.Promised, snap.Accepted), nil
}

func nodeKey(self paxos.NodeId) []byte {
	return []byte(fmt.Sprintf("acceptor:%d", uint64(self)))
}

// FsyncDelay is the write-batching window handed to mdbs.NewMDBServer.
const FsyncDelay = 500 * time.Microsecond
