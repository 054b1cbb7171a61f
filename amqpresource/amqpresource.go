// Package amqpresource adapts a RabbitMQ channel to the two-phase commit
// contract so a message publish can be enlisted alongside a database
// connection in the same transaction: the publish is held back until Commit,
// and discarded entirely on Rollback.
package amqpresource

import (
	"context"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lordbasex/dbpool"
	"github.com/lordbasex/dbpool/txn"
	"github.com/lordbasex/dbpool/xid"
)

// pendingPublish is one message deferred until transaction commit.
type pendingPublish struct {
	exchange   string
	routingKey string
	publishing amqp.Publishing
}

// publisher is the slice of *amqp.Channel this resource actually needs.
// Narrowing it to an interface lets tests exercise Commit with a fake
// broker instead of a live RabbitMQ connection.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPResource enlists a RabbitMQ channel as a txn.Resource. Start/End are
// no-ops, same as pool.ResourceAdapter: enlistment itself is the binding.
// Publishes issued through Publish are buffered and only actually sent to
// the broker from Commit; Rollback drops them untouched.
type AMQPResource struct {
	channel publisher

	mutex   sync.Mutex
	pending []pendingPublish
	done    bool
}

// New wraps channel for transactional use. The caller retains ownership of
// channel's lifecycle (opening/closing the underlying connection).
func New(channel *amqp.Channel) *AMQPResource {
	return &AMQPResource{channel: channel}
}

// Publish defers a message until the enlisting transaction commits. Each
// call is tagged with a fresh correlation id if publishing.CorrelationId is
// empty, so a caller can trace a buffered message back through logs even
// before it reaches the broker.
func (r *AMQPResource) Publish(exchange, routingKey string, publishing amqp.Publishing) {
	if publishing.CorrelationId == "" {
		publishing.CorrelationId = uuid.NewString()
	}
	r.mutex.Lock()
	r.pending = append(r.pending, pendingPublish{exchange: exchange, routingKey: routingKey, publishing: publishing})
	r.mutex.Unlock()
}

func (r *AMQPResource) Start(branch *xid.BranchId, flag txn.Flag) error { return nil }
func (r *AMQPResource) End(branch *xid.BranchId, flag txn.Flag) error   { return nil }

// Commit flushes every buffered publish to the broker. If any publish fails,
// the resource stops at the first failure and reports it; messages already
// published are not retracted, since AMQP has no way to unpublish.
func (r *AMQPResource) Commit(branch *xid.BranchId, onePhase bool) error {
	r.mutex.Lock()
	pending := r.pending
	r.pending = nil
	r.done = true
	r.mutex.Unlock()

	for _, p := range pending {
		err := r.channel.PublishWithContext(context.Background(), p.exchange, p.routingKey, false, false, p.publishing)
		if err != nil {
			return dbpool.Wrap(dbpool.KindResourceXA, "failed to publish message on commit", err)
		}
	}
	return nil
}

// Rollback discards every buffered publish without sending anything.
func (r *AMQPResource) Rollback(branch *xid.BranchId) error {
	r.mutex.Lock()
	r.pending = nil
	r.done = true
	r.mutex.Unlock()
	return nil
}

// Prepare always votes OK: buffered publishes are held in memory only, so
// there is nothing durable to fail between vote and commit in this one-phase
// deployment.
func (r *AMQPResource) Prepare(branch *xid.BranchId) (txn.Vote, error) {
	return txn.VoteOK, nil
}

func (r *AMQPResource) IsSameRM(other txn.Resource) bool {
	o, ok := other.(*AMQPResource)
	return ok && o.channel == r.channel
}

func (r *AMQPResource) Forget(branch *xid.BranchId) error { return nil }

// Pending reports how many publishes are currently buffered, for tests and
// diagnostics.
func (r *AMQPResource) Pending() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.pending)
}
