// Package dao holds the service's local state: the cached proposal
// documents, backer payment accounts and the payment journal in the
// database, and proposal digests in redis.
package dao

import (
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("dao")

var ErrNotFound = xerrors.New("not found")
