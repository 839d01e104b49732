package dao

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/outlierventures/buyco_settlement/model"
)

const (
	CacheTimeout time.Duration = 3600 * time.Second
)

type ProposalDigest struct {
	Address         string          `json:"address"`
	ProductName     string          `json:"product_name"`
	MainCategory    string          `json:"main_category"`
	SubCategory     string          `json:"sub_category"`
	MaxPricePerUnit decimal.Decimal `json:"max_price_per_unit"`
	EndDate         int64           `json:"end_date"`
	Closed          bool            `json:"closed"`
	AcceptedOffer   string          `json:"accepted_offer,omitempty"`
	BackerCount     uint64          `json:"backer_count"`
	OfferCount      uint64          `json:"offer_count"`
}

// ReconcileNotice is published on the notify channel after every reconcile.
type ReconcileNotice struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Total   int   `json:"total"`
	At      int64 `json:"at"`
}

var proposalDigestKey = "proposal_digest"
var proposalList = "proposal_list"
var proposalNotify = "proposal_notify"

func BuildProposalDigestKey(addr string) string {
	return proposalDigestKey + "_" + addr
}

func BuildProposalListKey() string {
	return proposalList
}

func BuildProposalNotifyKey() string {
	return proposalNotify
}

func NewProposalDigest(doc *model.ProposalDocument) *ProposalDigest {
	var end int64
	if !doc.EndDate.IsZero() {
		end = doc.EndDate.Unix()
	}
	return &ProposalDigest{
		Address:         doc.Address,
		ProductName:     doc.ProductName,
		MainCategory:    doc.MainCategory,
		SubCategory:     doc.SubCategory,
		MaxPricePerUnit: doc.MaxPricePerUnit,
		EndDate:         end,
		Closed:          doc.Closed,
		AcceptedOffer:   doc.AcceptedOffer,
		BackerCount:     doc.BackerCount,
		OfferCount:      doc.OfferCount,
	}
}

type DigestCache struct {
	rds redis.UniversalClient
}

func NewDigestCache(rds redis.UniversalClient) *DigestCache {
	return &DigestCache{rds: rds}
}

// Publish replaces the digests and the listing in one transaction and
// notifies subscribers.
func (c *DigestCache) Publish(ctx context.Context, digests []*ProposalDigest, notice ReconcileNotice) error {
	pipe := c.rds.TxPipeline()
	defer pipe.Close()

	addrs := make([]interface{}, 0, len(digests))
	for _, d := range digests {
		value, err := json.Marshal(d)
		if err != nil {
			return xerrors.Errorf("marshal digest of %s: %w", d.Address, err)
		}
		pipe.Set(ctx, BuildProposalDigestKey(d.Address), string(value), CacheTimeout)
		addrs = append(addrs, d.Address)
	}

	pipe.Del(ctx, BuildProposalListKey())
	if len(addrs) > 0 {
		pipe.RPush(ctx, BuildProposalListKey(), addrs...)
	}

	byteNotice, _ := json.Marshal(notice)
	pipe.Publish(ctx, BuildProposalNotifyKey(), string(byteNotice))

	if _, err := pipe.Exec(ctx); err != nil {
		pipe.Discard()
		return xerrors.Errorf("publish digests: %w", err)
	}
	return nil
}

// Get returns ErrNotFound for an unknown or expired digest.
func (c *DigestCache) Get(ctx context.Context, addr string) (*ProposalDigest, error) {
	value, err := c.rds.Get(ctx, BuildProposalDigestKey(addr)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d ProposalDigest
	if err := json.Unmarshal([]byte(value), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DigestCache) List(ctx context.Context) ([]string, error) {
	return c.rds.LRange(ctx, BuildProposalListKey(), 0, -1).Result()
}

// Clear drops every digest and the listing.
func (c *DigestCache) Clear(ctx context.Context) (int64, error) {
	keys := []string{BuildProposalListKey()}
	iter := c.rds.Scan(ctx, 0, BuildProposalDigestKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, xerrors.Errorf("scan digests: %w", err)
	}
	return c.rds.Del(ctx, keys...).Result()
}
