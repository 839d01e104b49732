package common

import (
	"time"

	"github.com/filecoin-project/go-address"
)

type PhasePayment struct {
	TxID   string
	Amount int64
}

func (pp PhasePayment) Paid() bool {
	return pp.TxID != ""
}

type Proposal struct {
	Address address.Address

	ProductName        string
	ProductDescription string
	ProductSku         string
	ProductUnitSize    string
	MainCategory       string
	SubCategory        string

	MaxPricePerUnit      int64
	EndDate              time.Time
	UltimateDeliveryDate time.Time
	Owner                address.Address

	Closed        bool
	AcceptedOffer address.Address // address.Undef when none

	OfferCount  uint64
	BackerCount uint64

	PledgePercentage      uint64
	StartPercentage       uint64
	EndPercentage         uint64
	MinDeliveryPercentage uint64

	StartPayout PhasePayment
	EndPayout   PhasePayment
}

func (p *Proposal) HasAcceptedOffer() bool {
	return p.AcceptedOffer != address.Undef
}

// PhasePercentage returns the share of price*quantity due in phase.
func (p *Proposal) PhasePercentage(phase Phase) uint64 {
	switch phase {
	case PhasePledge:
		return p.PledgePercentage
	case PhaseStart:
		return p.StartPercentage
	case PhaseEnd:
		return p.EndPercentage
	}
	return 0
}

func (p *Proposal) Payout(phase Phase) PhasePayment {
	switch phase {
	case PhaseStart:
		return p.StartPayout
	case PhaseEnd:
		return p.EndPayout
	}
	return PhasePayment{}
}

type Offer struct {
	Address       address.Address
	Proposal      address.Address
	Seller        address.Address
	Price         int64
	MinQuantity   uint64
	PayoutAccount string
}

type Backing struct {
	Index    uint64 // 1-based position on the proposal
	Address  address.Address
	Quantity uint64

	Pledge PhasePayment
	Start  PhasePayment
	End    PhasePayment

	DeliveryReported bool
	DeliveryCorrect  bool
}

func (b *Backing) Payment(phase Phase) PhasePayment {
	switch phase {
	case PhasePledge:
		return b.Pledge
	case PhaseStart:
		return b.Start
	case PhaseEnd:
		return b.End
	}
	return PhasePayment{}
}

// PaymentAccount maps a ledger account to its payment gateway identity.
type PaymentAccount struct {
	LedgerAddress address.Address
	UserID        string
	AccessToken   string
	CardID        string
}

// ProposalParams are the fields a buyer submits to create a proposal.
type ProposalParams struct {
	ProductName          string
	ProductDescription   string
	ProductSku           string
	ProductUnitSize      string
	MainCategory         string
	SubCategory          string
	MaxPricePerUnit      int64
	EndDate              time.Time
	UltimateDeliveryDate time.Time
}

type OfferParams struct {
	Price         int64
	MinQuantity   uint64
	PayoutAccount string
}
