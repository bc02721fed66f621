// Command demo wires a small in-process MultiPaxos cluster together and
// drives a handful of client requests through it: flag-configured,
// go-kit/log logfmt output, an optional Prometheus metrics listener,
// graceful shutdown on SIGINT/SIGTERM. There is no network listener;
// every "wire hop" is an in-process gob round trip through
// internal/wire, so the demo also doubles as a live exercise of the
// message codec.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	kitlog "github.com/go-kit/kit/log"
	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erewok/multifaustus/internal/backoff"
	"github.com/erewok/multifaustus/internal/mailbox"
	"github.com/erewok/multifaustus/internal/metrics"
	"github.com/erewok/multifaustus/internal/status"
	"github.com/erewok/multifaustus/internal/storage"
	"github.com/erewok/multifaustus/internal/timer"
	"github.com/erewok/multifaustus/internal/wire"
	"github.com/erewok/multifaustus/paxos"
)

func main() {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	var dataDir string
	var requests int
	var promPort int
	var seed int64
	flag.StringVar(&dataDir, "dir", "", "`Path` to an LMDB data directory for durable acceptor state (empty disables durability for this run).")
	flag.IntVar(&requests, "requests", 10, "Number of demo client requests to submit.")
	flag.IntVar(&promPort, "prometheusPort", 0, "Port to serve Prometheus metrics on (0 disables).")
	flag.Int64Var(&seed, "seed", 1, "Seed for leader backoff jitter, for reproducible demo runs.")
	flag.Parse()

	logger.Log("msg", "starting demo cluster", "mdbVersion", mdb.Version(), "acceptors", 3, "leaders", 3, "replicas", 3, "requests", requests)

	cluster := newClusterDemo(logger, seed, dataDir, promPort)
	defer cluster.shutdown()

	if promPort != 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Log("prometheusResult", http.ListenAndServe(fmt.Sprintf("localhost:%d", promPort), mux))
		}()
	}

	cluster.boot()

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cluster.submit(uint64(i+1), []byte(fmt.Sprintf("op-%d", i)))
		}(i)
	}
	wg.Wait()

	time.Sleep(500 * time.Millisecond)
	logger.Log("msg", "demo run complete")
	sc := status.NewConsumer()
	cluster.status(sc)
	fmt.Fprintln(os.Stderr, sc.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-time.After(200 * time.Millisecond):
	}
}

// clusterDemo co-locates an Acceptor, Leader and Replica at each of
// three NodeIds, the common "flat" MultiPaxos deployment where one
// process runs every role.
type clusterDemo struct {
	logger kitlog.Logger
	cfg    paxos.ClusterConfig

	acceptors map[paxos.NodeId]*paxos.Acceptor
	leaders   map[paxos.NodeId]*paxos.Leader
	replicas  map[paxos.NodeId]*paxos.Replica

	acceptorBox map[paxos.NodeId]*mailbox.Mailbox
	leaderBox   map[paxos.NodeId]*mailbox.Mailbox
	replicaBox  map[paxos.NodeId]*mailbox.Mailbox

	store *storage.Store
	disk  *mdbs.MDBServer
	ticks *timer.Source
	stop  func()

	respMu sync.Mutex
	pend   map[uint64]chan paxos.Response
}

const clientNode paxos.NodeId = 100

func newClusterDemo(logger kitlog.Logger, seed int64, dataDir string, _ int) *clusterDemo {
	ids := []paxos.NodeId{1, 2, 3}
	cfg := paxos.ClusterConfig{
		Acceptors: ids,
		Leaders:   ids,
		Replicas:  ids,
		Window:    5,
		Backoff:   paxos.DefaultBackoffParams,
	}

	cd := &clusterDemo{
		logger:      logger,
		cfg:         cfg,
		acceptors:   make(map[paxos.NodeId]*paxos.Acceptor),
		leaders:     make(map[paxos.NodeId]*paxos.Leader),
		replicas:    make(map[paxos.NodeId]*paxos.Replica),
		acceptorBox: make(map[paxos.NodeId]*mailbox.Mailbox),
		leaderBox:   make(map[paxos.NodeId]*mailbox.Mailbox),
		replicaBox:  make(map[paxos.NodeId]*mailbox.Mailbox),
		pend:        make(map[uint64]chan paxos.Response),
	}

	if dataDir != "" {
		disk, err := openDurableStore(dataDir, logger, rand.New(rand.NewSource(seed)))
		if err != nil {
			logger.Log("msg", "failed to open durable store, continuing without it", "err", err)
		} else {
			cd.disk = disk
			cd.store = storage.New(disk, storage.DBISettings)
		}
	}

	for _, id := range ids {
		id := id
		self := cfg
		self.Self = id

		var acc *paxos.Acceptor
		var err error
		if cd.store != nil {
			acc, err = cd.store.LoadAcceptor(id)
			if err != nil {
				// A corrupt snapshot must refuse to start rather than
				// silently discard promises.
				logger.Log("msg", "acceptor snapshot unreadable, refusing to start", "node", id, "err", err)
				os.Exit(1)
			}
		} else {
			acc = paxos.NewAcceptor(id)
		}
		acc.SetSenderFilter(self.IsLeader)
		cd.acceptors[id] = acc

		rng := rand.New(rand.NewSource(seed + int64(id)))
		leaderMetrics := metrics.NewLeaderMetrics(prometheus.DefaultRegisterer, id)
		replicaMetrics := metrics.NewReplicaMetrics(prometheus.DefaultRegisterer, id)
		cd.leaders[id] = paxos.NewLeader(self, rng, leaderMetrics)
		cd.replicas[id] = paxos.NewReplica(self, replicaMetrics, nil)

		cd.acceptorBox[id] = mailbox.New(64, cd.acceptorHandler(id), cd.route)
		cd.leaderBox[id] = mailbox.New(64, cd.leaderHandler(id), cd.route)
		cd.replicaBox[id] = mailbox.New(64, cd.replicaHandler(id), cd.route)
	}

	cd.ticks = timer.New(25*time.Millisecond, 20*time.Millisecond)
	cd.stop = cd.ticks.Repeating(100*time.Millisecond, func() {
		now := paxos.Tick{Now: time.Now()}
		for _, id := range ids {
			cd.leaderBox[id].Deliver(now)
		}
	})

	return cd
}

// openDurableStoreAttempts bounds how many times openDurableStore retries
// a failed LMDB open before giving up and running without durability.
const openDurableStoreAttempts = 4

// openDurableStore opens the LMDB-backed acceptor store, retrying a
// failed open with a doubling, jittered delay rather than failing on
// the first transient error (a locked data directory from a
// still-shutting-down prior run, for instance).
func openDurableStore(dataDir string, logger kitlog.Logger, rng *rand.Rand) (*mdbs.MDBServer, error) {
	eng := backoff.New(rng, 50*time.Millisecond, 2*time.Second)
	var lastErr error
	for attempt := 1; attempt <= openDurableStoreAttempts; attempt++ {
		disk, err := mdbs.NewMDBServer(dataDir, 0, 0600, 1<<26, storage.FsyncDelay, storage.DBISettings, logger)
		if err == nil {
			return disk, nil
		}
		lastErr = err
		if attempt == openDurableStoreAttempts || eng == nil {
			break
		}
		eng.Advance()
		logger.Log("msg", "retrying durable store open", "attempt", attempt, "wait", eng.Cur, "err", err)
		time.Sleep(eng.Cur)
	}
	return nil, lastErr
}

func (cd *clusterDemo) acceptorHandler(id paxos.NodeId) mailbox.Handler {
	return func(input paxos.Input) paxos.Outbox {
		acc := cd.acceptors[id]
		out, mut := acc.Step(input)
		if cd.store != nil {
			if err := cd.store.PersistMutation(id, mut); err != nil {
				cd.logger.Log("msg", "durable write failed, dropping reply", "node", id, "err", err)
				return nil
			}
		}
		return out
	}
}

func (cd *clusterDemo) leaderHandler(id paxos.NodeId) mailbox.Handler {
	return func(input paxos.Input) paxos.Outbox {
		return cd.leaders[id].Step(input)
	}
}

func (cd *clusterDemo) replicaHandler(id paxos.NodeId) mailbox.Handler {
	return func(input paxos.Input) paxos.Outbox {
		return cd.replicas[id].Step(input)
	}
}

// route dispatches one role's Outbox, round-tripping every envelope
// through the gob wire codec first so even in-process delivery
// exercises serialization.
func (cd *clusterDemo) route(out paxos.Outbox) {
	for _, env := range out {
		data, err := wire.EncodeEnvelope(env)
		if err != nil {
			cd.logger.Log("msg", "wire encode failed", "err", err)
			continue
		}
		decoded, err := wire.DecodeEnvelope(data)
		if err != nil {
			cd.logger.Log("msg", "wire decode failed", "err", err)
			continue
		}
		cd.deliver(decoded)
	}
}

func (cd *clusterDemo) deliver(env paxos.Envelope) {
	switch msg := env.Message.(type) {
	case paxos.P1a, paxos.P2a:
		if box, ok := cd.acceptorBox[env.Dest]; ok {
			box.Deliver(paxos.MessageInput{Msg: env.Message})
		}
	case paxos.P1b, paxos.P2b, paxos.Preempted, paxos.Propose:
		if box, ok := cd.leaderBox[env.Dest]; ok {
			box.Deliver(paxos.MessageInput{Msg: env.Message})
		}
	case paxos.DecisionMsg, paxos.Request:
		if box, ok := cd.replicaBox[env.Dest]; ok {
			box.Deliver(paxos.MessageInput{Msg: env.Message})
		}
	case paxos.Response:
		cd.respMu.Lock()
		ch, ok := cd.pend[msg.RequestId]
		cd.respMu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

// boot triggers each leader's first Phase 1 directly (Leader.Boot, not
// Step) before any concurrent traffic starts, so calling it outside the
// leader's mailbox is still safe.
func (cd *clusterDemo) boot() {
	for id, leader := range cd.leaders {
		cd.route(leader.Boot())
		cd.logger.Log("msg", "leader booted", "node", id)
	}
}

func (cd *clusterDemo) submit(requestId uint64, op []byte) {
	respCh := make(chan paxos.Response, 1)
	cd.respMu.Lock()
	cd.pend[requestId] = respCh
	cd.respMu.Unlock()

	cmd := paxos.Command{Client: clientNode, RequestId: requestId, Operation: op}
	target := cd.cfg.Replicas[int(requestId)%len(cd.cfg.Replicas)]
	cd.replicaBox[target].Deliver(paxos.MessageInput{Msg: paxos.Request{Src: clientNode, Command: cmd}})

	select {
	case resp := <-respCh:
		cd.logger.Log("msg", "request applied", "requestId", requestId, "result", string(resp.Result))
	case <-time.After(2 * time.Second):
		cd.logger.Log("msg", "request timed out", "requestId", requestId)
	}

	cd.respMu.Lock()
	delete(cd.pend, requestId)
	cd.respMu.Unlock()
}

func (cd *clusterDemo) status(sc *status.Consumer) {
	sc.Emit("Cluster")
	for _, id := range cd.cfg.Acceptors {
		cd.acceptors[id].Status(sc.Fork())
		sc.Join()
	}
	for _, id := range cd.cfg.Leaders {
		cd.leaders[id].Status(sc.Fork())
		sc.Join()
	}
	for _, id := range cd.cfg.Replicas {
		cd.replicas[id].Status(sc.Fork())
		sc.Join()
	}
}

func (cd *clusterDemo) shutdown() {
	if cd.stop != nil {
		cd.stop()
	}
	for _, box := range cd.acceptorBox {
		box.Shutdown()
	}
	for _, box := range cd.leaderBox {
		box.Shutdown()
	}
	for _, box := range cd.replicaBox {
		box.Shutdown()
	}
	if cd.disk != nil {
		cd.disk.Shutdown()
	}
}
