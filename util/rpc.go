package util

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/api/v1api"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"golang.org/x/xerrors"
)

// NewFullNodeRPCV1 follows lotus api/client.NewFullNodeRPCV1 without pulling
// in the whole client package.
func NewFullNodeRPCV1(ctx context.Context, addr string, requestHeader http.Header) (api.FullNode, jsonrpc.ClientCloser, error) {
	var res v1api.FullNodeStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Filecoin",
		api.GetInternalStructs(&res), requestHeader)

	return &res, closer, err
}

func GetFullNodeAPIUsingCredentials(ctx context.Context, listenAddr, token string) (api.FullNode, jsonrpc.ClientCloser, error) {
	parsedAddr, err := ma.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, nil, err
	}

	_, addr, err := manet.DialArgs(parsedAddr)
	if err != nil {
		return nil, nil, err
	}

	return NewFullNodeRPCV1(ctx, apiURI(addr), tokenHeaders(token))
}

// ConnectNode dials a "<token>:<multiaddr>" endpoint and checks the node
// answers before handing it out.
func ConnectNode(ctx context.Context, endpoint string) (api.FullNode, jsonrpc.ClientCloser, error) {
	token, maddr, err := ParseNodeEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}

	node, closer, err := GetFullNodeAPIUsingCredentials(ctx, maddr, token)
	if err != nil {
		return nil, nil, xerrors.Errorf("connect node %s: %w", maddr, err)
	}

	v, err := node.Version(ctx)
	if err != nil {
		closer()
		return nil, nil, xerrors.Errorf("node version: %w", err)
	}
	log.Infow("node connected", "addr", maddr, "version", v.Version)

	return node, closer, nil
}

func apiURI(addr string) string {
	return "ws://" + addr + "/rpc/v1"
}

func tokenHeaders(token string) http.Header {
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)
	return headers
}
