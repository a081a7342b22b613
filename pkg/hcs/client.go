// Package hcs creates consensus topics on the Hedera network and exposes
// topic creation over HTTP.
package hcs

import (
	"context"
	"fmt"
	"strings"

	"propchain/pkg/logging"
	"propchain/pkg/models"

	"github.com/hashgraph/hedera-sdk-go/v2"
	"go.uber.org/zap"
)

// TopicCreator creates a topic with the given memo.
type TopicCreator interface {
	CreateTopic(ctx context.Context, memo string) (models.TopicReceipt, error)
}

// HederaCreator submits TopicCreateTransactions signed by the configured
// operator.
type HederaCreator struct {
	client   *hedera.Client
	adminKey hedera.PublicKey
	config   Config
	logger   *logging.Logger
}

func NewHederaCreator(cfg Config, logger *logging.Logger) (*HederaCreator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	accountID, err := hedera.AccountIDFromString(strings.TrimSpace(cfg.OperatorAccountID))
	if err != nil {
		return nil, fmt.Errorf("hcs: invalid operator account id: %w", err)
	}

	key, err := hedera.PrivateKeyFromString(strings.TrimSpace(cfg.OperatorPrivateKey.Reveal()))
	if err != nil {
		return nil, fmt.Errorf("hcs: invalid operator private key")
	}

	var client *hedera.Client
	switch cfg.Network {
	case NetworkMainnet:
		client = hedera.ClientForMainnet()
	default:
		client = hedera.ClientForTestnet()
	}
	client.SetOperator(accountID, key)

	logger = logging.OrGlobal(logger).Named("hcs")
	logger.Info("hedera client ready",
		zap.String("network", string(cfg.Network)),
		zap.String("operator", accountID.String()),
	)

	return &HederaCreator{
		client:   client,
		adminKey: key.PublicKey(),
		config:   cfg,
		logger:   logger,
	}, nil
}

// CreateTopic submits the transaction and waits for its receipt. The SDK call
// does not take a context, so ctx only bounds how long the caller waits.
func (c *HederaCreator) CreateTopic(ctx context.Context, memo string) (models.TopicReceipt, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	type result struct {
		receipt models.TopicReceipt
		err     error
	}
	done := make(chan result, 1)

	go func() {
		receipt, err := c.createTopic(memo)
		done <- result{receipt, err}
	}()

	select {
	case r := <-done:
		return r.receipt, r.err
	case <-ctx.Done():
		return models.TopicReceipt{}, fmt.Errorf("hcs: create topic: %w", ctx.Err())
	}
}

func (c *HederaCreator) createTopic(memo string) (models.TopicReceipt, error) {
	resp, err := hedera.NewTopicCreateTransaction().
		SetTopicMemo(memo).
		SetAdminKey(c.adminKey).
		Execute(c.client)
	if err != nil {
		return models.TopicReceipt{}, fmt.Errorf("hcs: submit topic create: %w", err)
	}

	receipt, err := resp.GetReceipt(c.client)
	if err != nil {
		return models.TopicReceipt{}, fmt.Errorf("hcs: topic create receipt: %w", err)
	}
	if receipt.TopicID == nil {
		return models.TopicReceipt{}, fmt.Errorf("hcs: receipt has no topic id")
	}

	out := models.TopicReceipt{
		TopicID:       receipt.TopicID.String(),
		TransactionID: resp.TransactionID.String(),
	}
	c.logger.Info("topic created",
		zap.String("topic_id", out.TopicID),
		zap.String("transaction_id", out.TransactionID),
	)
	return out, nil
}

func (c *HederaCreator) Close() error {
	return c.client.Close()
}
