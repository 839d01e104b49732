// Package ledgertest provides an in-memory ledger.Gateway that applies the
// proposal actor's rules, for tests that need a ledger without a node.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/common"
	"github.com/outlierventures/buyco_settlement/ledger"
)

// Default phase percentages of new proposals.
const (
	DefaultPledgePercentage      = 5
	DefaultStartPercentage       = 45
	DefaultEndPercentage         = 50
	DefaultMinDeliveryPercentage = 50
)

type backerState struct {
	common.Backing
}

type offerState struct {
	common.Offer
}

type proposalState struct {
	common.Proposal
	offers  []address.Address
	backers []*backerState
}

type Ledger struct {
	mu sync.Mutex

	registry  address.Address
	nextID    uint64
	proposals []*proposalState
	byAddr    map[address.Address]*proposalState
	offers    map[address.Address]*offerState
	now       time.Time

	readFaults  map[string]error
	writeFaults map[string]error
	writes      map[string]int
	reads       map[string]int
}

var _ ledger.Gateway = (*Ledger)(nil)

func New() *Ledger {
	l := &Ledger{
		nextID:      1000,
		byAddr:      make(map[address.Address]*proposalState),
		offers:      make(map[address.Address]*offerState),
		now:         time.Now(),
		readFaults:  make(map[string]error),
		writeFaults: make(map[string]error),
		writes:      make(map[string]int),
		reads:       make(map[string]int),
	}
	l.registry = l.newAddress()
	return l
}

func (l *Ledger) newAddress() address.Address {
	l.nextID++
	addr, err := address.NewIDAddress(l.nextID)
	if err != nil {
		panic(err)
	}
	return addr
}

// SetNow moves the ledger clock used by the closing precondition.
func (l *Ledger) SetNow(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = t
}

// FailRead makes every read of field on addr fail with err. Field names are
// the ledger.Proposal / ledger.Offer method names.
func (l *Ledger) FailRead(addr address.Address, field string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readFaults[faultKey(addr, field)] = err
}

// FailWrite makes every method transaction on addr fail with err, wrapped as
// a rejection.
func (l *Ledger) FailWrite(addr address.Address, method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeFaults[faultKey(addr, method)] = err
}

func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readFaults = make(map[string]error)
	l.writeFaults = make(map[string]error)
}

// Writes counts committed transactions of method across all actors.
func (l *Ledger) Writes(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes[method]
}

func (l *Ledger) Reads(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[method]
}

func faultKey(addr address.Address, name string) string {
	return addr.String() + "/" + name
}

func (l *Ledger) readLocked(addr address.Address, field string) error {
	l.reads[field]++
	if err, ok := l.readFaults[faultKey(addr, field)]; ok {
		return err
	}
	return nil
}

func (l *Ledger) writeLocked(addr address.Address, method string) (cid.Cid, error) {
	if err, ok := l.writeFaults[faultKey(addr, method)]; ok {
		return cid.Undef, xerrors.Errorf("%s on %s: %v: %w", method, addr, err, common.ErrTransactionRejected)
	}
	l.writes[method]++
	return messageCid(fmt.Sprintf("%s/%s/%d", addr, method, l.writes[method])), nil
}

func rejectf(format string, args ...interface{}) error {
	return xerrors.Errorf("%s: %w", fmt.Sprintf(format, args...), common.ErrTransactionRejected)
}

func messageCid(seed string) cid.Cid {
	c, err := abi.CidBuilder.Sum([]byte(seed))
	if err != nil {
		panic(err)
	}
	return c
}

// AddProposal creates a proposal directly, bypassing the registry transaction.
func (l *Ledger) AddProposal(params common.ProposalParams, owner address.Address) address.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addProposalLocked(params, owner)
}

func (l *Ledger) addProposalLocked(params common.ProposalParams, owner address.Address) address.Address {
	addr := l.newAddress()
	ps := &proposalState{
		Proposal: common.Proposal{
			Address:               addr,
			ProductName:           params.ProductName,
			ProductDescription:    params.ProductDescription,
			ProductSku:            params.ProductSku,
			ProductUnitSize:       params.ProductUnitSize,
			MainCategory:          params.MainCategory,
			SubCategory:           params.SubCategory,
			MaxPricePerUnit:       params.MaxPricePerUnit,
			EndDate:               params.EndDate,
			UltimateDeliveryDate:  params.UltimateDeliveryDate,
			Owner:                 owner,
			AcceptedOffer:         address.Undef,
			PledgePercentage:      DefaultPledgePercentage,
			StartPercentage:       DefaultStartPercentage,
			EndPercentage:         DefaultEndPercentage,
			MinDeliveryPercentage: DefaultMinDeliveryPercentage,
		},
	}
	l.proposals = append(l.proposals, ps)
	l.byAddr[addr] = ps
	return addr
}

// UpdateProposal mutates ledger state out of band, as another writer would.
func (l *Ledger) UpdateProposal(addr address.Address, fn func(p *common.Proposal)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ps, ok := l.byAddr[addr]; ok {
		fn(&ps.Proposal)
	}
}

// Backing returns a copy of the stored backer state.
func (l *Ledger) Backing(addr address.Address, index uint64) (common.Backing, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.byAddr[addr]
	if !ok || index == 0 || index > uint64(len(ps.backers)) {
		return common.Backing{}, false
	}
	return ps.backers[index-1].Backing, true
}

func (l *Ledger) Snapshot(addr address.Address) (common.Proposal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ps, ok := l.byAddr[addr]
	if !ok {
		return common.Proposal{}, false
	}
	p := ps.Proposal
	p.OfferCount = uint64(len(ps.offers))
	p.BackerCount = uint64(len(ps.backers))
	return p, true
}

func (l *Ledger) Registry(ctx context.Context) (ledger.Registry, error) {
	return &registry{l: l}, nil
}

func (l *Ledger) Proposal(addr address.Address) ledger.Proposal {
	return &proposal{l: l, addr: addr}
}

func (l *Ledger) Offer(addr address.Address) ledger.Offer {
	return &offer{l: l, addr: addr}
}

type registry struct {
	l *Ledger
}

func (r *registry) Address() address.Address { return r.l.registry }

func (r *registry) ProposalCount(ctx context.Context) (uint64, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.readLocked(r.l.registry, "ProposalCount"); err != nil {
		return 0, err
	}
	return uint64(len(r.l.proposals)), nil
}

func (r *registry) ProposalAt(ctx context.Context, index uint64) (address.Address, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if err := r.l.readLocked(r.l.registry, "ProposalAt"); err != nil {
		return address.Undef, err
	}
	if index == 0 || index > uint64(len(r.l.proposals)) {
		return address.Undef, xerrors.Errorf("proposal index %d out of range", index)
	}
	return r.l.proposals[index-1].Address, nil
}

func (r *registry) CreateProposal(ctx context.Context, from address.Address, params common.ProposalParams) (address.Address, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if params.MaxPricePerUnit <= 0 {
		return address.Undef, rejectf("max price must be positive")
	}
	if _, err := r.l.writeLocked(r.l.registry, "CreateProposal"); err != nil {
		return address.Undef, err
	}
	return r.l.addProposalLocked(params, from), nil
}

type proposal struct {
	l    *Ledger
	addr address.Address
}

func (p *proposal) Address() address.Address { return p.addr }

// with runs fn on the proposal state under the ledger lock after the read
// fault check for field.
func (p *proposal) with(field string, fn func(ps *proposalState) error) error {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if err := p.l.readLocked(p.addr, field); err != nil {
		return err
	}
	ps, ok := p.l.byAddr[p.addr]
	if !ok {
		return xerrors.Errorf("actor %s not found", p.addr)
	}
	return fn(ps)
}

func (p *proposal) ProductName(ctx context.Context) (v string, err error) {
	err = p.with("ProductName", func(ps *proposalState) error { v = ps.ProductName; return nil })
	return
}

func (p *proposal) ProductDescription(ctx context.Context) (v string, err error) {
	err = p.with("ProductDescription", func(ps *proposalState) error { v = ps.ProductDescription; return nil })
	return
}

func (p *proposal) ProductSku(ctx context.Context) (v string, err error) {
	err = p.with("ProductSku", func(ps *proposalState) error { v = ps.ProductSku; return nil })
	return
}

func (p *proposal) ProductUnitSize(ctx context.Context) (v string, err error) {
	err = p.with("ProductUnitSize", func(ps *proposalState) error { v = ps.ProductUnitSize; return nil })
	return
}

func (p *proposal) MainCategory(ctx context.Context) (v string, err error) {
	err = p.with("MainCategory", func(ps *proposalState) error { v = ps.MainCategory; return nil })
	return
}

func (p *proposal) SubCategory(ctx context.Context) (v string, err error) {
	err = p.with("SubCategory", func(ps *proposalState) error { v = ps.SubCategory; return nil })
	return
}

func (p *proposal) MaxPricePerUnit(ctx context.Context) (v int64, err error) {
	err = p.with("MaxPricePerUnit", func(ps *proposalState) error { v = ps.MaxPricePerUnit; return nil })
	return
}

func (p *proposal) EndDate(ctx context.Context) (v int64, err error) {
	err = p.with("EndDate", func(ps *proposalState) error { v = unix(ps.EndDate); return nil })
	return
}

func (p *proposal) UltimateDeliveryDate(ctx context.Context) (v int64, err error) {
	err = p.with("UltimateDeliveryDate", func(ps *proposalState) error { v = unix(ps.UltimateDeliveryDate); return nil })
	return
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (p *proposal) Owner(ctx context.Context) (v address.Address, err error) {
	err = p.with("Owner", func(ps *proposalState) error { v = ps.Owner; return nil })
	return
}

func (p *proposal) Closed(ctx context.Context) (v bool, err error) {
	err = p.with("Closed", func(ps *proposalState) error { v = ps.Closed; return nil })
	return
}

func (p *proposal) AcceptedOffer(ctx context.Context) (v address.Address, err error) {
	err = p.with("AcceptedOffer", func(ps *proposalState) error { v = ps.AcceptedOffer; return nil })
	return
}

func (p *proposal) OfferCount(ctx context.Context) (v uint64, err error) {
	err = p.with("OfferCount", func(ps *proposalState) error { v = uint64(len(ps.offers)); return nil })
	return
}

func (p *proposal) BackerCount(ctx context.Context) (v uint64, err error) {
	err = p.with("BackerCount", func(ps *proposalState) error { v = uint64(len(ps.backers)); return nil })
	return
}

func (p *proposal) PhasePercentage(ctx context.Context, phase common.Phase) (v uint64, err error) {
	err = p.with("PhasePercentage", func(ps *proposalState) error {
		if !phase.Valid() {
			return xerrors.Errorf("invalid phase %d", phase)
		}
		v = ps.PhasePercentage(phase)
		return nil
	})
	return
}

func (p *proposal) MinDeliveryPercentage(ctx context.Context) (v uint64, err error) {
	err = p.with("MinDeliveryPercentage", func(ps *proposalState) error { v = ps.MinDeliveryPercentage; return nil })
	return
}

func (p *proposal) PayoutTxID(ctx context.Context, phase common.Phase) (v string, err error) {
	err = p.with("PayoutTxID", func(ps *proposalState) error { v = ps.Payout(phase).TxID; return nil })
	return
}

func (p *proposal) PayoutAmount(ctx context.Context, phase common.Phase) (v int64, err error) {
	err = p.with("PayoutAmount", func(ps *proposalState) error { v = ps.Payout(phase).Amount; return nil })
	return
}

func (p *proposal) DeliveryComplete(ctx context.Context) (v bool, err error) {
	err = p.with("DeliveryComplete", func(ps *proposalState) error { v = ps.deliveryComplete(); return nil })
	return
}

// deliveryComplete holds once the share of backers reporting a correct
// delivery reaches the minimum delivery percentage.
func (ps *proposalState) deliveryComplete() bool {
	if !ps.Closed || !ps.HasAcceptedOffer() || len(ps.backers) == 0 {
		return false
	}
	var correct uint64
	for _, b := range ps.backers {
		if b.DeliveryReported && b.DeliveryCorrect {
			correct++
		}
	}
	return correct*100 >= ps.MinDeliveryPercentage*uint64(len(ps.backers))
}

func (p *proposal) OfferAt(ctx context.Context, index uint64) (v address.Address, err error) {
	err = p.with("OfferAt", func(ps *proposalState) error {
		if index == 0 || index > uint64(len(ps.offers)) {
			return xerrors.Errorf("offer index %d out of range", index)
		}
		v = ps.offers[index-1]
		return nil
	})
	return
}

func (p *proposal) Backer(ctx context.Context, index uint64) (v *common.Backing, err error) {
	err = p.with("Backer", func(ps *proposalState) error {
		if index == 0 || index > uint64(len(ps.backers)) {
			return xerrors.Errorf("backer index %d out of range", index)
		}
		b := ps.backers[index-1].Backing
		v = &b
		return nil
	})
	return
}

func (p *proposal) BackerIndex(ctx context.Context, backer address.Address) (v uint64, err error) {
	err = p.with("BackerIndex", func(ps *proposalState) error {
		for _, b := range ps.backers {
			if b.Address == backer {
				v = b.Index
			}
		}
		return nil
	})
	return
}

func (p *proposal) PhasePaid(ctx context.Context, index uint64, phase common.Phase) (v common.PhasePayment, err error) {
	err = p.with("PhasePaid", func(ps *proposalState) error {
		if index == 0 || index > uint64(len(ps.backers)) {
			return xerrors.Errorf("backer index %d out of range", index)
		}
		v = ps.backers[index-1].Payment(phase)
		return nil
	})
	return
}

func (p *proposal) PhaseAmount(ctx context.Context, index uint64, phase common.Phase) (v int64, err error) {
	err = p.with("PhaseAmount", func(ps *proposalState) error {
		if index == 0 || index > uint64(len(ps.backers)) {
			return xerrors.Errorf("backer index %d out of range", index)
		}
		price, err := p.l.phasePriceLocked(ps, phase)
		if err != nil {
			return err
		}
		v = common.PhaseAmount(price, ps.backers[index-1].Quantity, ps.PhasePercentage(phase))
		return nil
	})
	return
}

// phasePriceLocked is the unit price a phase amount is computed on: the
// maximum price while pledging, the accepted offer's price afterwards.
func (l *Ledger) phasePriceLocked(ps *proposalState, phase common.Phase) (int64, error) {
	if phase == common.PhasePledge {
		return ps.MaxPricePerUnit, nil
	}
	if !ps.HasAcceptedOffer() {
		return 0, xerrors.Errorf("no accepted offer on %s", ps.Address)
	}
	return l.offers[ps.AcceptedOffer].Price, nil
}

// mutate runs a transaction: fault check, rule check in fn, then commit.
func (p *proposal) mutate(method string, fn func(ps *proposalState) error) (cid.Cid, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	ps, ok := p.l.byAddr[p.addr]
	if !ok {
		return cid.Undef, rejectf("actor %s not found", p.addr)
	}
	if err, ok := p.l.writeFaults[faultKey(p.addr, method)]; ok {
		return cid.Undef, xerrors.Errorf("%s on %s: %v: %w", method, p.addr, err, common.ErrTransactionRejected)
	}
	if err := fn(ps); err != nil {
		return cid.Undef, err
	}
	return p.l.writeLocked(p.addr, method)
}

func (p *proposal) Back(ctx context.Context, from address.Address, quantity uint64) (cid.Cid, error) {
	return p.mutate("Back", func(ps *proposalState) error {
		if ps.Closed {
			return rejectf("proposal %s is closed", ps.Address)
		}
		if quantity == 0 {
			return rejectf("quantity must be positive")
		}
		for _, b := range ps.backers {
			if b.Address == from {
				b.Quantity = quantity
				return nil
			}
		}
		ps.backers = append(ps.backers, &backerState{Backing: common.Backing{
			Index:    uint64(len(ps.backers) + 1),
			Address:  from,
			Quantity: quantity,
		}})
		return nil
	})
}

func (p *proposal) SubmitOffer(ctx context.Context, from address.Address, params common.OfferParams) (address.Address, error) {
	var addr address.Address
	_, err := p.mutate("SubmitOffer", func(ps *proposalState) error {
		if ps.Closed {
			return rejectf("proposal %s is closed", ps.Address)
		}
		if params.Price <= 0 {
			return rejectf("price must be positive")
		}
		addr = p.l.newAddress()
		p.l.offers[addr] = &offerState{Offer: common.Offer{
			Address:       addr,
			Proposal:      ps.Address,
			Seller:        from,
			Price:         params.Price,
			MinQuantity:   params.MinQuantity,
			PayoutAccount: params.PayoutAccount,
		}}
		ps.offers = append(ps.offers, addr)
		return nil
	})
	if err != nil {
		return address.Undef, err
	}
	return addr, nil
}

// Close accepts the cheapest offer at or below the maximum price whose
// minimum quantity is met by the total backed quantity; the earliest such
// offer wins ties.
func (p *proposal) Close(ctx context.Context, from address.Address) (cid.Cid, error) {
	return p.mutate("Close", func(ps *proposalState) error {
		if ps.Closed {
			return rejectf("proposal %s already closed", ps.Address)
		}
		if p.l.now.Before(ps.EndDate) {
			return rejectf("proposal %s still open until %s", ps.Address, ps.EndDate)
		}
		if len(ps.offers) == 0 {
			return rejectf("proposal %s has no offers", ps.Address)
		}

		var total uint64
		for _, b := range ps.backers {
			total += b.Quantity
		}

		candidates := make([]*offerState, 0, len(ps.offers))
		for _, a := range ps.offers {
			o := p.l.offers[a]
			if o.Price <= ps.MaxPricePerUnit && o.MinQuantity <= total {
				candidates = append(candidates, o)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Price < candidates[j].Price
		})

		ps.Closed = true
		if len(candidates) > 0 {
			ps.AcceptedOffer = candidates[0].Address
		}
		return nil
	})
}

func (p *proposal) SetPhasePaid(ctx context.Context, from address.Address, index uint64, phase common.Phase, txID string, amount int64) (cid.Cid, error) {
	return p.mutate("SetPhasePaid", func(ps *proposalState) error {
		if !phase.Valid() {
			return rejectf("invalid phase %d", phase)
		}
		if index == 0 || index > uint64(len(ps.backers)) {
			return rejectf("backer index %d out of range", index)
		}
		if txID == "" {
			return rejectf("empty transaction id")
		}
		if phase != common.PhasePledge && !ps.HasAcceptedOffer() {
			return rejectf("no accepted offer on %s", ps.Address)
		}
		if phase == common.PhaseEnd && !ps.deliveryComplete() {
			return rejectf("delivery not complete on %s", ps.Address)
		}
		b := ps.backers[index-1]
		pp := common.PhasePayment{TxID: txID, Amount: amount}
		switch phase {
		case common.PhasePledge:
			if b.Pledge.Paid() {
				return rejectf("pledge of backer %d already paid", index)
			}
			b.Pledge = pp
		case common.PhaseStart:
			if b.Start.Paid() {
				return rejectf("start of backer %d already paid", index)
			}
			b.Start = pp
		case common.PhaseEnd:
			if b.End.Paid() {
				return rejectf("end of backer %d already paid", index)
			}
			b.End = pp
		}
		return nil
	})
}

func (p *proposal) RegisterStartPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error) {
	return p.mutate("RegisterStartPayout", func(ps *proposalState) error {
		return ps.registerPayout(common.PhaseStart, &ps.StartPayout, txID, amount)
	})
}

func (p *proposal) RegisterEndPayout(ctx context.Context, from address.Address, txID string, amount int64) (cid.Cid, error) {
	return p.mutate("RegisterEndPayout", func(ps *proposalState) error {
		if !ps.deliveryComplete() {
			return rejectf("delivery not complete on %s", ps.Address)
		}
		return ps.registerPayout(common.PhaseEnd, &ps.EndPayout, txID, amount)
	})
}

func (ps *proposalState) registerPayout(phase common.Phase, payout *common.PhasePayment, txID string, amount int64) error {
	if !ps.HasAcceptedOffer() {
		return rejectf("no accepted offer on %s", ps.Address)
	}
	if payout.Paid() {
		return rejectf("%s payout of %s already registered", phase, ps.Address)
	}
	for _, b := range ps.backers {
		if !b.Payment(phase).Paid() {
			return rejectf("backer %d has not paid %s", b.Index, phase)
		}
	}
	*payout = common.PhasePayment{TxID: txID, Amount: amount}
	return nil
}

func (p *proposal) ReportDelivery(ctx context.Context, from address.Address, index uint64, correct bool) (cid.Cid, error) {
	return p.mutate("ReportDelivery", func(ps *proposalState) error {
		if !ps.HasAcceptedOffer() {
			return rejectf("no accepted offer on %s", ps.Address)
		}
		if index == 0 || index > uint64(len(ps.backers)) {
			return rejectf("backer index %d out of range", index)
		}
		b := ps.backers[index-1]
		if b.Address != from {
			return rejectf("%s is not backer %d", from, index)
		}
		b.DeliveryReported = true
		b.DeliveryCorrect = correct
		return nil
	})
}

type offer struct {
	l    *Ledger
	addr address.Address
}

func (o *offer) Address() address.Address { return o.addr }

func (o *offer) with(field string, fn func(os *offerState)) error {
	o.l.mu.Lock()
	defer o.l.mu.Unlock()
	if err := o.l.readLocked(o.addr, field); err != nil {
		return err
	}
	os, ok := o.l.offers[o.addr]
	if !ok {
		return xerrors.Errorf("actor %s not found", o.addr)
	}
	fn(os)
	return nil
}

func (o *offer) Proposal(ctx context.Context) (v address.Address, err error) {
	err = o.with("Proposal", func(os *offerState) { v = os.Proposal })
	return
}

func (o *offer) Seller(ctx context.Context) (v address.Address, err error) {
	err = o.with("Seller", func(os *offerState) { v = os.Seller })
	return
}

func (o *offer) Price(ctx context.Context) (v int64, err error) {
	err = o.with("Price", func(os *offerState) { v = os.Price })
	return
}

func (o *offer) MinQuantity(ctx context.Context) (v uint64, err error) {
	err = o.with("MinQuantity", func(os *offerState) { v = os.MinQuantity })
	return
}

func (o *offer) PayoutAccount(ctx context.Context) (v string, err error) {
	err = o.with("PayoutAccount", func(os *offerState) { v = os.PayoutAccount })
	return
}
