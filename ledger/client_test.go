package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/crypto"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/chain/types"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/outlierventures/buyco_settlement/common"
)

type methodKey struct {
	to     address.Address
	method abi.MethodNum
}

type reply struct {
	ret  []byte
	code exitcode.ExitCode
}

type fakeChain struct {
	mu      sync.Mutex
	replies map[methodKey]reply
	params  map[methodKey][]byte

	lookupID    address.Address
	lookupErr   error
	lookupCalls atomic.Int64
	// when set, lookups signal lookupStarted and wait for lookupBlock
	lookupStarted chan struct{}
	lookupBlock   chan struct{}

	pushErr error
	pushed  []*types.Message
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		replies: make(map[methodKey]reply),
		params:  make(map[methodKey][]byte),
	}
}

func (f *fakeChain) on(to address.Address, method abi.MethodNum, ret []byte, code exitcode.ExitCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[methodKey{to, method}] = reply{ret: ret, code: code}
}

func (f *fakeChain) reply(msg *types.Message) reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := methodKey{msg.To, msg.Method}
	f.params[k] = msg.Params
	r, ok := f.replies[k]
	if !ok {
		return reply{code: exitcode.SysErrInvalidMethod}
	}
	return r
}

func (f *fakeChain) StateCall(ctx context.Context, msg *types.Message, tsk types.TipSetKey) (*api.InvocResult, error) {
	r := f.reply(msg)
	return &api.InvocResult{
		Msg:    msg,
		MsgRct: &types.MessageReceipt{ExitCode: r.code, Return: r.ret},
	}, nil
}

func (f *fakeChain) StateLookupID(ctx context.Context, addr address.Address, tsk types.TipSetKey) (address.Address, error) {
	f.lookupCalls.Inc()
	if f.lookupBlock != nil {
		f.lookupStarted <- struct{}{}
		select {
		case <-f.lookupBlock:
		case <-ctx.Done():
			return address.Undef, ctx.Err()
		}
	}
	if f.lookupErr != nil {
		return address.Undef, f.lookupErr
	}
	return f.lookupID, nil
}

func (f *fakeChain) MpoolPushMessage(ctx context.Context, msg *types.Message, spec *api.MessageSendSpec) (*types.SignedMessage, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	f.mu.Lock()
	msg.Nonce = uint64(len(f.pushed))
	f.pushed = append(f.pushed, msg)
	f.mu.Unlock()
	return &types.SignedMessage{Message: *msg, Signature: crypto.Signature{Type: crypto.SigTypeBLS}}, nil
}

func (f *fakeChain) StateWaitMsg(ctx context.Context, c cid.Cid, confidence uint64, limit abi.ChainEpoch, allowReplaced bool) (*api.MsgLookup, error) {
	f.mu.Lock()
	var msg *types.Message
	for _, m := range f.pushed {
		if m.Cid() == c {
			msg = m
		}
	}
	f.mu.Unlock()
	if msg == nil {
		return nil, errors.New("message not found")
	}
	r := f.reply(msg)
	return &api.MsgLookup{
		Message: c,
		Receipt: types.MessageReceipt{ExitCode: r.code, Return: r.ret},
		Height:  10,
	}, nil
}

func mustID(t *testing.T, id uint64) address.Address {
	addr, err := address.NewIDAddress(id)
	require.NoError(t, err)
	return addr
}

func mustValue(t *testing.T, v interface{}) []byte {
	b, err := EncodeValue(v)
	require.NoError(t, err)
	return b
}

func TestProposalReads(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	prop := mustID(t, 1001)
	owner := mustID(t, 1002)

	chain.on(prop, MethodProductName, mustValue(t, "Olive oil"), exitcode.Ok)
	chain.on(prop, MethodMaxPricePerUnit, mustValue(t, int64(10100)), exitcode.Ok)
	chain.on(prop, MethodOwner, mustValue(t, owner), exitcode.Ok)
	chain.on(prop, MethodClosed, mustValue(t, true), exitcode.Ok)
	chain.on(prop, MethodAcceptedOffer, mustValue(t, address.Undef), exitcode.Ok)
	chain.on(prop, MethodBackerCount, mustValue(t, uint64(2)), exitcode.Ok)

	c := NewClient(chain, Config{Caller: owner})
	p := c.Proposal(prop)

	name, err := p.ProductName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Olive oil", name)

	price, err := p.MaxPricePerUnit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10100), price)

	got, err := p.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	closed, err := p.Closed(ctx)
	require.NoError(t, err)
	assert.True(t, closed)

	accepted, err := p.AcceptedOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, address.Undef, accepted)

	count, err := p.BackerCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestBackerDecoding(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	prop := mustID(t, 1001)
	backer := mustID(t, 1003)

	full, err := EncodeTuple(backer, uint64(550), "tx-1", int64(27775), "", int64(0), "", int64(0), true, false)
	require.NoError(t, err)
	chain.on(prop, MethodBacker, full, exitcode.Ok)

	p := NewClient(chain, Config{Caller: backer}).Proposal(prop)
	b, err := p.Backer(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.Index)
	assert.Equal(t, backer, b.Address)
	assert.Equal(t, uint64(550), b.Quantity)
	assert.Equal(t, common.PhasePayment{TxID: "tx-1", Amount: 27775}, b.Pledge)
	assert.False(t, b.Start.Paid())
	assert.True(t, b.DeliveryReported)
	assert.False(t, b.DeliveryCorrect)

	legacy, err := EncodeTuple(backer, uint64(100), "", int64(0), "", int64(0), "", int64(0))
	require.NoError(t, err)
	chain.on(prop, MethodBacker, legacy, exitcode.Ok)
	b, err = p.Backer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), b.Quantity)
	assert.False(t, b.DeliveryReported)

	short, err := EncodeTuple(backer, uint64(100))
	require.NoError(t, err)
	chain.on(prop, MethodBacker, short, exitcode.Ok)
	_, err = p.Backer(ctx, 2)
	assert.Error(t, err)

	_, err = p.Backer(ctx, 0)
	assert.Error(t, err)
}

func TestCallExitCode(t *testing.T) {
	chain := newFakeChain()
	prop := mustID(t, 1001)
	chain.on(prop, MethodProductName, nil, exitcode.ErrForbidden)

	_, err := NewClient(chain, Config{}).Proposal(prop).ProductName(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrTransactionRejected))
}

func TestRegistryResolvedOnce(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	robust, err := address.NewActorAddress([]byte("registry"))
	require.NoError(t, err)
	id := mustID(t, 100)
	chain.lookupID = id
	chain.on(id, MethodProposalCount, mustValue(t, uint64(3)), exitcode.Ok)

	c := NewClient(chain, Config{Registry: robust})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Registry(ctx)
			assert.NoError(t, err)
			assert.Equal(t, robust, r.Address())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, chain.lookupCalls.Load(), int64(16))

	before := chain.lookupCalls.Load()
	r, err := c.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, chain.lookupCalls.Load())

	n, err := r.ProposalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestRegistryFailureNotCached(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	chain.lookupErr = errors.New("node unavailable")

	c := NewClient(chain, Config{Registry: mustID(t, 100)})
	_, err := c.Registry(ctx)
	require.Error(t, err)

	chain.lookupErr = nil
	chain.lookupID = mustID(t, 100)
	_, err = c.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), chain.lookupCalls.Load())
}

func TestRegistryCallerCancelDoesNotFailOthers(t *testing.T) {
	chain := newFakeChain()
	chain.lookupID = mustID(t, 100)
	chain.lookupStarted = make(chan struct{}, 1)
	chain.lookupBlock = make(chan struct{})

	c := NewClient(chain, Config{Registry: mustID(t, 100)})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Registry(firstCtx)
		firstErr <- err
	}()
	<-chain.lookupStarted

	type result struct {
		r   Registry
		err error
	}
	second := make(chan result, 1)
	go func() {
		r, err := c.Registry(context.Background())
		second <- result{r, err}
	}()

	cancel()
	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	close(chain.lookupBlock)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, mustID(t, 100), res.r.Address())
	assert.Equal(t, int64(1), chain.lookupCalls.Load())

	r, err := c.Registry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.r, r)
}

func TestSendCommitted(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	prop := mustID(t, 1001)
	owner := mustID(t, 1002)
	chain.on(prop, MethodClose, nil, exitcode.Ok)

	c, err := NewClient(chain, Config{}).Proposal(prop).Close(ctx, owner)
	require.NoError(t, err)
	require.Len(t, chain.pushed, 1)
	assert.Equal(t, chain.pushed[0].Cid(), c)
	assert.Equal(t, owner, chain.pushed[0].From)
	assert.Equal(t, MethodClose, chain.pushed[0].Method)
}

func TestSendRejected(t *testing.T) {
	ctx := context.Background()
	prop := mustID(t, 1001)
	owner := mustID(t, 1002)

	chain := newFakeChain()
	chain.on(prop, MethodSetPhasePaid, nil, exitcode.ErrIllegalState)
	_, err := NewClient(chain, Config{}).Proposal(prop).SetPhasePaid(ctx, owner, 1, common.PhaseStart, "tx-1", 100)
	assert.True(t, errors.Is(err, common.ErrTransactionRejected))

	chain = newFakeChain()
	chain.pushErr = errors.New("insufficient funds")
	_, err = NewClient(chain, Config{}).Proposal(prop).Back(ctx, owner, 10)
	assert.True(t, errors.Is(err, common.ErrTransactionRejected))
}

func TestSetPhasePaidParams(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	prop := mustID(t, 1001)
	chain.on(prop, MethodSetPhasePaid, nil, exitcode.Ok)

	_, err := NewClient(chain, Config{}).Proposal(prop).SetPhasePaid(ctx, mustID(t, 1), 2, common.PhaseEnd, "tx-9", -5)
	require.NoError(t, err)

	d := newDecoder(chain.params[methodKey{prop, MethodSetPhasePaid}])
	n, err := d.readArray()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	index, err := d.readUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	phase, err := d.readUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(common.PhaseEnd), phase)

	pp, err := d.readPhasePayment()
	require.NoError(t, err)
	assert.Equal(t, common.PhasePayment{TxID: "tx-9", Amount: -5}, pp)
}

func TestCreateProposal(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain()
	id := mustID(t, 100)
	created := mustID(t, 1500)
	chain.lookupID = id
	chain.on(id, MethodCreateProposal, mustValue(t, created), exitcode.Ok)

	r, err := NewClient(chain, Config{Registry: id}).Registry(ctx)
	require.NoError(t, err)

	addr, err := r.CreateProposal(ctx, mustID(t, 1002), common.ProposalParams{ProductName: "Olive oil", MaxPricePerUnit: 10100})
	require.NoError(t, err)
	assert.Equal(t, created, addr)

	d := newDecoder(chain.params[methodKey{id, MethodCreateProposal}])
	n, err := d.readArray()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
	name, err := d.readString()
	require.NoError(t, err)
	assert.Equal(t, "Olive oil", name)
}

func TestEncodeParamsEmpty(t *testing.T) {
	b, err := encodeParams()
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = encodeParams(3.14)
	assert.Error(t, err)
}
