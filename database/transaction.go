package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Transactor runs a unit of work. When the backend supports multi-document
// transactions the callback's ctx carries the session, so every repository call
// made with it joins the transaction; otherwise the callback runs as is.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

// MongoTransactor wraps fn in a session transaction when supported is true.
type MongoTransactor struct {
	client    *mongo.Client
	supported bool
}

func NewMongoTransactor(client *mongo.Client, supported bool) *MongoTransactor {
	return &MongoTransactor{client: client, supported: supported}
}

func (t *MongoTransactor) Transactional() bool {
	return t.supported
}

func (t *MongoTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !t.supported {
		return fn(ctx)
	}

	sess, err := t.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	if err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	}); err != nil {
		return err
	}
	return nil
}

// NoopTransactor runs callbacks without a transaction.
type NoopTransactor struct{}

func (NoopTransactor) Transactional() bool { return false }

func (NoopTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// IsWriteConflict reports whether err is a transaction write conflict, which is
// how a losing concurrent writer surfaces inside a transaction.
func IsWriteConflict(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(112) || se.HasErrorLabel("TransientTransactionError")
	}
	return false
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
