package mailbox_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erewok/multifaustus/internal/mailbox"
	"github.com/erewok/multifaustus/paxos"
)

func TestMailboxDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64

	mb := mailbox.New(16, func(input paxos.Input) paxos.Outbox {
		req := input.(paxos.MessageInput).Msg.(paxos.Request)
		mu.Lock()
		seen = append(seen, req.Command.RequestId)
		mu.Unlock()
		return nil
	}, nil)
	defer mb.Shutdown()

	for i := uint64(1); i <= 20; i++ {
		ok := mb.Deliver(paxos.MessageInput{Msg: paxos.Request{
			Src:     1,
			Command: paxos.Command{Client: 1, RequestId: i},
		}})
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 20
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, id := range seen {
		require.Equal(t, uint64(i+1), id, "handler must observe deliveries in the order they were enqueued")
	}
}

func TestMailboxSinkReceivesHandlerOutput(t *testing.T) {
	out := make(chan paxos.Outbox, 1)
	mb := mailbox.New(4, func(input paxos.Input) paxos.Outbox {
		return paxos.Outbox{{Dest: 2, Message: paxos.Response{RequestId: 1}}}
	}, func(o paxos.Outbox) { out <- o })
	defer mb.Shutdown()

	mb.Deliver(paxos.Tick{Now: time.Now()})

	select {
	case o := <-out:
		require.Len(t, o, 1)
		require.Equal(t, paxos.NodeId(2), o[0].Dest)
	case <-time.After(time.Second):
		t.Fatal("sink never received handler output")
	}
}

func TestMailboxShutdownStopsProcessing(t *testing.T) {
	mb := mailbox.New(4, func(paxos.Input) paxos.Outbox { return nil }, nil)
	mb.Shutdown()
	mb.Wait()
}
