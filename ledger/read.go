package ledger

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"golang.org/x/xerrors"
)

func (c *Client) callString(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (string, error) {
	d, err := c.call(ctx, to, method, args...)
	if err != nil {
		return "", err
	}
	v, err := d.readString()
	if err != nil {
		return "", xerrors.Errorf("decode method %d of %s: %w", method, to, err)
	}
	return v, nil
}

func (c *Client) callInt(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (int64, error) {
	d, err := c.call(ctx, to, method, args...)
	if err != nil {
		return 0, err
	}
	v, err := d.readInt()
	if err != nil {
		return 0, xerrors.Errorf("decode method %d of %s: %w", method, to, err)
	}
	return v, nil
}

func (c *Client) callUint(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (uint64, error) {
	d, err := c.call(ctx, to, method, args...)
	if err != nil {
		return 0, err
	}
	v, err := d.readUint()
	if err != nil {
		return 0, xerrors.Errorf("decode method %d of %s: %w", method, to, err)
	}
	return v, nil
}

func (c *Client) callBool(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (bool, error) {
	d, err := c.call(ctx, to, method, args...)
	if err != nil {
		return false, err
	}
	v, err := d.readBool()
	if err != nil {
		return false, xerrors.Errorf("decode method %d of %s: %w", method, to, err)
	}
	return v, nil
}

func (c *Client) callAddress(ctx context.Context, to address.Address, method abi.MethodNum, args ...interface{}) (address.Address, error) {
	d, err := c.call(ctx, to, method, args...)
	if err != nil {
		return address.Undef, err
	}
	v, err := d.readAddress()
	if err != nil {
		return address.Undef, xerrors.Errorf("decode method %d of %s: %w", method, to, err)
	}
	return v, nil
}
