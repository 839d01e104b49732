package util

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("util")

// ReqContext derives a context from the command that is cancelled on SIGINT
// or SIGTERM.
func ReqContext(cctx *cli.Context) context.Context {
	ctx, done := context.WithCancel(cctx.Context)
	sigChan := make(chan os.Signal, 2)
	go func() {
		sig := <-sigChan
		log.Warnw("signal received, shutting down", "signal", sig.String())
		done()
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	return ctx
}

// ParseNodeEndpoint splits a "<token>:<multiaddr>" node endpoint.
func ParseNodeEndpoint(s string) (token string, maddr string, err error) {
	tos := strings.SplitN(s, ":", 2)
	if len(tos) != 2 || tos[0] == "" {
		return "", "", xerrors.Errorf("invalid api tokens, expected <token>:<maddr>, got: %s", s)
	}
	if _, err := ma.NewMultiaddr(tos[1]); err != nil {
		return "", "", xerrors.Errorf("invalid node multiaddr %q: %w", tos[1], err)
	}
	return tos[0], tos[1], nil
}
