package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/chain/types"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
)

type Config struct {
	// Registry is the robust address of the proposal registry actor.
	Registry address.Address
	// Caller is the From address of read-only calls.
	Caller address.Address
	// Confidence is the number of epochs a write must be buried under.
	Confidence uint64
	MaxFee     abi.TokenAmount
}

type Client struct {
	api ChainAPI
	cfg Config

	initGroup singleflight.Group
	mu        sync.RWMutex
	registry  *registryActor
}

var _ Gateway = (*Client)(nil)

func NewClient(chain ChainAPI, cfg Config) *Client {
	if cfg.MaxFee.Int == nil {
		cfg.MaxFee = big.Zero()
	}
	return &Client{
		api: chain,
		cfg: cfg,
	}
}

const registryResolveTimeout = 30 * time.Second

// Registry returns the registry handle, resolving it on first use. Concurrent
// first callers share one resolution, which runs on its own timeout so that a
// caller giving up does not fail the others; a failed resolution is retried
// by the next caller.
func (c *Client) Registry(ctx context.Context) (Registry, error) {
	if r := c.cachedRegistry(); r != nil {
		return r, nil
	}

	ch := c.initGroup.DoChan("registry", func() (interface{}, error) {
		if r := c.cachedRegistry(); r != nil {
			return r, nil
		}

		lctx, cancel := context.WithTimeout(context.Background(), registryResolveTimeout)
		defer cancel()
		id, err := c.api.StateLookupID(lctx, c.cfg.Registry, types.EmptyTSK)
		if err != nil {
			return nil, xerrors.Errorf("resolve registry %s: %w", c.cfg.Registry, err)
		}

		r := &registryActor{c: c, addr: c.cfg.Registry, id: id}
		c.mu.Lock()
		c.registry = r
		c.mu.Unlock()

		log.Infow("registry resolved", "address", c.cfg.Registry, "id", id)
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*registryActor), nil
	case <-ctx.Done():
		return nil, xerrors.Errorf("resolve registry %s: %w", c.cfg.Registry, ctx.Err())
	}
}

func (c *Client) cachedRegistry() *registryActor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

func (c *Client) Proposal(addr address.Address) Proposal {
	return &proposalActor{c: c, addr: addr}
}

func (c *Client) Offer(addr address.Address) Offer {
	return &offerActor{c: c, addr: addr}
}

// call runs a read-only method against the current head.
func (c *Client) call(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (*decoder, error) {
	params, err := encodeParams(args...)
	if err != nil {
		return nil, xerrors.Errorf("encode params of method %d: %w", method, err)
	}

	msg := &types.Message{
		To:         to,
		From:       c.cfg.Caller,
		Value:      big.Zero(),
		GasFeeCap:  big.Zero(),
		GasPremium: big.Zero(),
		Method:     method,
		Params:     params,
	}

	res, err := c.api.StateCall(ctx, msg, types.EmptyTSK)
	if err != nil {
		return nil, xerrors.Errorf("call method %d on %s: %w", method, to, err)
	}
	if res.MsgRct == nil {
		return nil, xerrors.Errorf("call method %d on %s: no receipt: %s", method, to, res.Error)
	}
	if res.MsgRct.ExitCode != exitcode.Ok {
		return nil, xerrors.Errorf("call method %d on %s: exit code %d: %s", method, to, res.MsgRct.ExitCode, res.Error)
	}

	return newDecoder(res.MsgRct.Return), nil
}

// send pushes a transaction and blocks until it is committed. Any failure,
// from mempool refusal to a non-zero exit code, is ErrTransactionRejected.
func (c *Client) send(ctx context.Context, from, to address.Address, method abi.MethodNum, args ...interface{}) (cid.Cid, *decoder, error) {
	params, err := encodeParams(args...)
	if err != nil {
		return cid.Undef, nil, xerrors.Errorf("encode params of method %d: %w", method, err)
	}

	msg := &types.Message{
		To:         to,
		From:       from,
		Value:      big.Zero(),
		GasFeeCap:  big.Zero(),
		GasPremium: big.Zero(),
		Method:     method,
		Params:     params,
	}

	smsg, err := c.api.MpoolPushMessage(ctx, msg, &api.MessageSendSpec{MaxFee: c.cfg.MaxFee})
	if err != nil {
		return cid.Undef, nil, xerrors.Errorf("push method %d to %s: %v: %w", method, to, err, common.ErrTransactionRejected)
	}

	submitted := smsg.Cid()
	log.Debugw("transaction submitted", "to", to, "method", method, "cid", submitted)

	lookup, err := c.api.StateWaitMsg(ctx, submitted, c.cfg.Confidence, api.LookbackNoLimit, true)
	if err != nil {
		return submitted, nil, xerrors.Errorf("wait %s: %v: %w", submitted, err, common.ErrTransactionRejected)
	}
	if lookup.Receipt.ExitCode != exitcode.Ok {
		return lookup.Message, nil, xerrors.Errorf("method %d on %s exited %d: %w", method, to, lookup.Receipt.ExitCode, common.ErrTransactionRejected)
	}

	log.Debugw("transaction committed", "to", to, "method", method, "cid", lookup.Message, "height", lookup.Height)
	return lookup.Message, newDecoder(lookup.Receipt.Return), nil
}
