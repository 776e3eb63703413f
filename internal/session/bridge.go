// Package session turns a completed external-provider login into a bearer
// credential pair.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/identity"
	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/token"
)

// Bridge is invoked once per successful provider login. It resolves the
// identity, issues tokens and stamps activity in a single store transaction,
// so account mutation and credential creation cannot diverge.
type Bridge struct {
	store  store.Store
	tokens config.TokenConfig
	log    *zap.Logger
}

// NewBridge returns a bridge bound to the given store.
func NewBridge(s store.Store, tokens config.TokenConfig, log *zap.Logger) *Bridge {
	return &Bridge{store: s, tokens: tokens, log: log}
}

// Result is what a completed login hands back to the caller.
type Result struct {
	Account    *models.Account
	Pair       token.Pair
	NewAccount bool
}

// Login resolves the assertion and issues a token pair. Exactly one new
// refresh credential is created per call.
func (b *Bridge) Login(ctx context.Context, a identity.Assertion) (*Result, error) {
	var result Result
	err := b.store.Transaction(ctx, func(tx store.Store) error {
		account, isNew, err := identity.NewResolver(tx, b.log).Resolve(ctx, a)
		if err != nil {
			return err
		}

		pair, err := token.NewService(tx, b.tokens, b.log).Issue(ctx, account)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.TouchAccount(ctx, account.ID, now); err != nil {
			return err
		}
		account.LastActiveAt = now

		result = Result{Account: account, Pair: *pair, NewAccount: isNew}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Info("login completed",
		zap.String("provider", a.Provider),
		zap.String("account_id", result.Account.ID.String()),
		zap.Bool("new_account", result.NewAccount))
	return &result, nil
}
