package ledger

import "github.com/filecoin-project/go-state-types/abi"

// Registry actor methods.
const (
	MethodProposalCount  = abi.MethodNum(2)
	MethodProposalAt     = abi.MethodNum(3)
	MethodCreateProposal = abi.MethodNum(4)
)

// Proposal actor methods. 2-29 are reads, 40 and up are transactions.
const (
	MethodProductName           = abi.MethodNum(2)
	MethodProductDescription    = abi.MethodNum(3)
	MethodProductSku            = abi.MethodNum(4)
	MethodProductUnitSize       = abi.MethodNum(5)
	MethodMainCategory          = abi.MethodNum(6)
	MethodSubCategory           = abi.MethodNum(7)
	MethodMaxPricePerUnit       = abi.MethodNum(8)
	MethodEndDate               = abi.MethodNum(9)
	MethodUltimateDeliveryDate  = abi.MethodNum(10)
	MethodOwner                 = abi.MethodNum(11)
	MethodClosed                = abi.MethodNum(12)
	MethodAcceptedOffer         = abi.MethodNum(13)
	MethodOfferCount            = abi.MethodNum(14)
	MethodBackerCount           = abi.MethodNum(15)
	MethodPhasePercentage       = abi.MethodNum(16)
	MethodMinDeliveryPercentage = abi.MethodNum(17)
	MethodPayoutTxID            = abi.MethodNum(18)
	MethodPayoutAmount          = abi.MethodNum(19)
	MethodDeliveryComplete      = abi.MethodNum(20)
	MethodOfferAt               = abi.MethodNum(21)
	MethodBacker                = abi.MethodNum(22)
	MethodBackerIndex           = abi.MethodNum(23)
	MethodPhasePaid             = abi.MethodNum(24)
	MethodPhaseAmount           = abi.MethodNum(25)

	MethodBack                = abi.MethodNum(40)
	MethodSubmitOffer         = abi.MethodNum(41)
	MethodClose               = abi.MethodNum(42)
	MethodSetPhasePaid        = abi.MethodNum(43)
	MethodRegisterStartPayout = abi.MethodNum(44)
	MethodRegisterEndPayout   = abi.MethodNum(45)
	MethodReportDelivery      = abi.MethodNum(46)
)

// Offer actor methods.
const (
	MethodOfferProposal      = abi.MethodNum(2)
	MethodOfferSeller        = abi.MethodNum(3)
	MethodOfferPrice         = abi.MethodNum(4)
	MethodOfferMinQuantity   = abi.MethodNum(5)
	MethodOfferPayoutAccount = abi.MethodNum(6)
)
