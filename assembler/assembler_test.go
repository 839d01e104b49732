package assembler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/ledger/ledgertest"
)

func newProposal(t *testing.T, l *ledgertest.Ledger, name string) address.Address {
	owner, err := address.NewIDAddress(1)
	require.NoError(t, err)
	return l.AddProposal(common.ProposalParams{
		ProductName:          name,
		ProductSku:           "SKU-" + name,
		MainCategory:         "food",
		SubCategory:          "oil",
		MaxPricePerUnit:      10100,
		EndDate:              time.Unix(1700000000, 0),
		UltimateDeliveryDate: time.Unix(1710000000, 0),
	}, owner)
}

func TestAssembleProposal(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	addr := newProposal(t, l, "olive")

	p, err := New(l).Proposal(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, p.Address)
	assert.Equal(t, "olive", p.ProductName)
	assert.Equal(t, "SKU-olive", p.ProductSku)
	assert.Equal(t, int64(10100), p.MaxPricePerUnit)
	assert.Equal(t, int64(1700000000), p.EndDate.Unix())
	assert.Equal(t, uint64(ledgertest.DefaultStartPercentage), p.StartPercentage)
	assert.False(t, p.Closed)
	assert.False(t, p.HasAcceptedOffer())
}

func TestAssemblePartialRead(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	addr := newProposal(t, l, "olive")
	l.FailRead(addr, "SubCategory", errors.New("node timeout"))

	p, err := New(l).Proposal(ctx, addr)
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, common.ErrPartialRead))

	var pe *common.PartialReadError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, addr, pe.Address)
	assert.Equal(t, "subCategory", pe.Field)
}

func TestAssembleWaitsForAllReads(t *testing.T) {
	ctx := context.Background()
	addr, err := address.NewIDAddress(7)
	require.NoError(t, err)

	var slow bool
	err = Assemble(ctx, addr, []Field{
		{"fast", func(ctx context.Context) error { return errors.New("boom") }},
		{"slow", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			slow = true
			return nil
		}},
	})
	require.Error(t, err)
	assert.True(t, slow)
}

func TestListProposals(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	names := []string{"olive", "rice", "flour", "salt"}
	for _, n := range names {
		newProposal(t, l, n)
	}

	list, err := New(l).ListProposals(ctx)
	require.NoError(t, err)
	require.Len(t, list, len(names))
	for i, p := range list {
		assert.Equal(t, names[i], p.ProductName)
	}
}

func TestListProposalsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	newProposal(t, l, "olive")
	bad := newProposal(t, l, "rice")
	newProposal(t, l, "flour")
	l.FailRead(bad, "Closed", errors.New("decode error"))

	list, err := New(l).ListProposals(ctx)
	require.Error(t, err)
	assert.Nil(t, list)
	assert.True(t, errors.Is(err, common.ErrPartialRead))
}

func TestListProposalsEmpty(t *testing.T) {
	list, err := New(ledgertest.New()).ListProposals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBackersAndOffers(t *testing.T) {
	ctx := context.Background()
	l := ledgertest.New()
	addr := newProposal(t, l, "olive")
	b1, _ := address.NewIDAddress(501)
	b2, _ := address.NewIDAddress(502)
	seller, _ := address.NewIDAddress(601)

	h := l.Proposal(addr)
	_, err := h.Back(ctx, b1, 550)
	require.NoError(t, err)
	_, err = h.Back(ctx, b2, 100)
	require.NoError(t, err)
	oaddr, err := h.SubmitOffer(ctx, seller, common.OfferParams{Price: 10000, MinQuantity: 500, PayoutAccount: "seller-card"})
	require.NoError(t, err)

	a := New(l)
	backers, err := a.Backers(ctx, addr)
	require.NoError(t, err)
	require.Len(t, backers, 2)
	assert.Equal(t, uint64(1), backers[0].Index)
	assert.Equal(t, b1, backers[0].Address)
	assert.Equal(t, uint64(100), backers[1].Quantity)

	offers, err := a.Offers(ctx, addr)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, oaddr, offers[0].Address)
	assert.Equal(t, addr, offers[0].Proposal)
	assert.Equal(t, "seller-card", offers[0].PayoutAccount)

	l.FailRead(oaddr, "Price", errors.New("gone"))
	_, err = a.Offers(ctx, addr)
	assert.True(t, errors.Is(err, common.ErrPartialRead))

	_, err = a.Backer(ctx, addr, 3)
	assert.True(t, errors.Is(err, common.ErrPartialRead))
}
