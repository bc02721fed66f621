// Package mailbox serializes concurrent callers onto a single-threaded
// driver loop using a chancell actor cell. A paxos
// role's Step method is not safe for concurrent use; Mailbox is the
// ambient-stack seam that lets network listeners, timer ticks, and test
// harnesses all feed the same role from different goroutines while
// guaranteeing Step is only ever called from the one actor goroutine it
// owns.
package mailbox

import (
	cc "github.com/msackman/chancell"

	"github.com/erewok/multifaustus/paxos"
)

// Handler is invoked once per delivered Input, from the Mailbox's own
// actor goroutine. Handler calls never overlap.
type Handler func(paxos.Input) paxos.Outbox

// Sink receives the Outbox a Handler call produced. It is invoked from
// the same actor goroutine as Handler, so it must not block.
type Sink func(paxos.Outbox)

type mailboxMsg interface {
	witness() mailboxMsg
}

type mailboxMsgBasic struct{}

func (mailboxMsgBasic) witness() mailboxMsg { return mailboxMsgBasic{} }

type mailboxMsgDeliver struct {
	mailboxMsgBasic
	input paxos.Input
}

type mailboxMsgShutdown struct{ mailboxMsgBasic }

// Mailbox is a single-consumer actor queue feeding one Handler.
type Mailbox struct {
	cellTail          *cc.ChanCellTail
	enqueueQueryInner func(mailboxMsg, *cc.ChanCell, cc.CurCellConsumer) (bool, cc.CurCellConsumer)
	queryChan         <-chan mailboxMsg

	handler Handler
	sink    Sink
}

// New creates and starts a Mailbox backed by its own actor goroutine.
// Depth sizes the cell's internal buffered channel.
func New(depth int, handler Handler, sink Sink) *Mailbox {
	mb := &Mailbox{handler: handler, sink: sink}
	mb.start(depth)
	return mb
}

// Deliver enqueues input for processing. It returns false if the mailbox
// has been shut down, so a caller can detect a dead recipient.
func (mb *Mailbox) Deliver(input paxos.Input) bool {
	return mb.enqueue(mailboxMsgDeliver{input: input})
}

// Shutdown stops the actor loop after draining any already-enqueued work.
func (mb *Mailbox) Shutdown() {
	mb.enqueue(mailboxMsgShutdown{})
}

// Wait blocks until the actor loop has fully terminated.
func (mb *Mailbox) Wait() {
	mb.cellTail.Wait()
}

func (mb *Mailbox) enqueue(msg mailboxMsg) bool {
	var f cc.CurCellConsumer
	f = func(cell *cc.ChanCell) (bool, cc.CurCellConsumer) {
		return mb.enqueueQueryInner(msg, cell, f)
	}
	return mb.cellTail.WithCell(f)
}

func (mb *Mailbox) start(depth int) {
	var head *cc.ChanCellHead
	head, mb.cellTail = cc.NewChanCellTail(
		func(n int, cell *cc.ChanCell) {
			queryChan := make(chan mailboxMsg, depth)
			cell.Open = func() { mb.queryChan = queryChan }
			cell.Close = func() { close(queryChan) }
			mb.enqueueQueryInner = func(msg mailboxMsg, curCell *cc.ChanCell, cont cc.CurCellConsumer) (bool, cc.CurCellConsumer) {
				if curCell == cell {
					select {
					case queryChan <- msg:
						return true, nil
					default:
						return false, nil
					}
				}
				return false, cont
			}
		})
	go mb.actorLoop(head)
}

func (mb *Mailbox) actorLoop(head *cc.ChanCellHead) {
	var (
		queryChan <-chan mailboxMsg
		queryCell *cc.ChanCell
	)
	chanFun := func(cell *cc.ChanCell) { queryChan, queryCell = mb.queryChan, cell }
	head.WithCell(chanFun)

	terminate := false
	for !terminate {
		if msg, ok := <-queryChan; ok {
			terminate = mb.handleMsg(msg)
		} else {
			head.Next(queryCell, chanFun)
		}
	}
	mb.cellTail.Terminate()
}

func (mb *Mailbox) handleMsg(msg mailboxMsg) (terminate bool) {
	switch m := msg.(type) {
	case mailboxMsgDeliver:
		out := mb.handler(m.input)
		if mb.sink != nil && out != nil {
			mb.sink(out)
		}
		return false
	case mailboxMsgShutdown:
		return true
	default:
		return false
	}
}
