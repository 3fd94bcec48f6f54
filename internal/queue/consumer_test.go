package queue

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/model"
	"github.com/iliyamo/ticket-mint-reconciler/internal/reconciler"
)

type fakeHandler struct {
	events []model.LedgerEvent
	reorgs []model.Provenance
	err    error
}

func (h *fakeHandler) HandleConfirmation(_ context.Context, ev model.LedgerEvent) error {
	h.events = append(h.events, ev)
	return h.err
}

func (h *fakeHandler) HandleReorg(_ context.Context, p model.Provenance) error {
	h.reorgs = append(h.reorgs, p)
	return h.err
}

type fakeAck struct {
	acked, requeued, rejected int
}

func (a *fakeAck) Ack(bool) error { a.acked++; return nil }

func (a *fakeAck) Nack(_ bool, requeue bool) error {
	if requeue {
		a.requeued++
	} else {
		a.rejected++
	}
	return nil
}

func TestDispatch(t *testing.T) {
	h := &fakeHandler{}
	c := NewConsumer("", h, 1)
	ctx := context.Background()

	body := `{"ticket_id":"t-1","group":"0xab","category":"0xcd","owner":"0x0f","code":"0x01",
		"provenance":{"block_hash":"0xb1","tx_hash":"0xc1","log_index":4}}`
	require.NoError(t, c.dispatch(ctx, TicketMintedQueue, []byte(body)))
	require.Len(t, h.events, 1)
	assert.Equal(t, model.LedgerEvent{
		TicketID:     "t-1",
		GroupHash:    "0xab",
		CategoryHash: "0xcd",
		Owner:        "0x0f",
		Code:         "0x01",
		Provenance:   model.Provenance{BlockHash: "0xb1", TxHash: "0xc1", LogIndex: 4},
	}, h.events[0])

	require.NoError(t, c.dispatch(ctx, ReorgQueue, []byte(`{"provenance":{"block_hash":"0xb1","tx_hash":"0xc1","log_index":4}}`)))
	require.Len(t, h.reorgs, 1)
	assert.Equal(t, uint64(4), h.reorgs[0].LogIndex)

	assert.ErrorIs(t, c.dispatch(ctx, TicketMintedQueue, []byte("{")), errMalformed)
	assert.ErrorIs(t, c.dispatch(ctx, "elsewhere", []byte("{}")), errMalformed)
}

func TestSettle(t *testing.T) {
	c := NewConsumer("", &fakeHandler{}, 1)
	c.retryDelay = 0

	cases := []struct {
		name string
		err  error
		want fakeAck
	}{
		{"success", nil, fakeAck{acked: 1}},
		{"upstream failure", errors.New("connection reset"), fakeAck{requeued: 1}},
		{"validation failure", &reconciler.Error{Kind: reconciler.Validation, Message: reconciler.MsgOwner}, fakeAck{rejected: 1}},
		{"malformed", errMalformed, fakeAck{rejected: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var a fakeAck
			c.settle(&a, tc.err)
			assert.Equal(t, tc.want, a)
		})
	}
}

type declaredQueue struct {
	name string
	args amqp.Table
}

type recordingDeclarer struct {
	exchanges []string
	queues    []declaredQueue
	bindings  [][3]string
	failOn    string
}

func (r *recordingDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	r.exchanges = append(r.exchanges, name+"/"+kind)
	return nil
}

func (r *recordingDeclarer) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	if name == r.failOn {
		return amqp.Queue{}, errors.New("precondition failed")
	}
	r.queues = append(r.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (r *recordingDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	r.bindings = append(r.bindings, [3]string{name, key, exchange})
	return nil
}

func TestDeclareQueueDeadLetters(t *testing.T) {
	ch := &recordingDeclarer{}
	require.NoError(t, declareQueue(ch, TicketMintedQueue))

	assert.Equal(t, []string{DeadLetterExchange + "/direct"}, ch.exchanges)
	require.Len(t, ch.queues, 2)
	assert.Equal(t, "ledger.ticket_minted.dead", ch.queues[0].name)
	assert.Nil(t, ch.queues[0].args)
	assert.Equal(t, TicketMintedQueue, ch.queues[1].name)
	assert.Equal(t, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": TicketMintedQueue,
	}, ch.queues[1].args)
	assert.Equal(t, [][3]string{{"ledger.ticket_minted.dead", TicketMintedQueue, DeadLetterExchange}}, ch.bindings)

	err := declareQueue(&recordingDeclarer{failOn: ReorgQueue}, ReorgQueue)
	assert.ErrorContains(t, err, ReorgQueue)
}
