package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
)

// callFunctionResult is the raw view-call response. The contract return
// value arrives as an array of byte values.
type callFunctionResult struct {
	RawResult   []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
}

// CallFunction executes a read-only contract view call at final head and
// returns the raw return value bytes.
func (c *Client) CallFunction(ctx context.Context, accountID, method string, args interface{}) ([]byte, error) {
	return c.callFunction(ctx, accountID, method, args, nil)
}

// CallFunctionAt is CallFunction pinned to a historical block height.
func (c *Client) CallFunctionAt(ctx context.Context, accountID, method string, args interface{}, height uint64) ([]byte, error) {
	return c.callFunction(ctx, accountID, method, args, &height)
}

func (c *Client) callFunction(ctx context.Context, accountID, method string, args interface{}, height *uint64) ([]byte, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode call args: %w", err)
	}

	params := map[string]interface{}{
		"request_type": "call_function",
		"account_id":   accountID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(encoded),
	}
	if height != nil {
		params["block_id"] = *height
	} else {
		params["finality"] = "final"
	}

	var result callFunctionResult
	if err := c.Call(ctx, "query", params, &result); err != nil {
		return nil, err
	}

	raw := make([]byte, len(result.RawResult))
	for i, b := range result.RawResult {
		raw[i] = byte(b)
	}
	return raw, nil
}

// PoolAccounts pages through the staking pool's delegator accounts via
// repeated get_accounts calls until a short page indicates the end.
func (c *Client) PoolAccounts(ctx context.Context, poolID string) ([]PoolAccount, error) {
	return c.poolAccounts(ctx, poolID, nil)
}

// PoolAccountsAt is PoolAccounts pinned to a historical block height.
func (c *Client) PoolAccountsAt(ctx context.Context, poolID string, height uint64) ([]PoolAccount, error) {
	return c.poolAccounts(ctx, poolID, &height)
}

func (c *Client) poolAccounts(ctx context.Context, poolID string, height *uint64) ([]PoolAccount, error) {
	var accounts []PoolAccount
	from := 0

	for {
		args := map[string]interface{}{
			"from_index": from,
			"limit":      constants.AccountsPageLimit,
		}
		var raw []byte
		var err error
		if height != nil {
			raw, err = c.CallFunctionAt(ctx, poolID, "get_accounts", args, *height)
		} else {
			raw, err = c.CallFunction(ctx, poolID, "get_accounts", args)
		}
		if err != nil {
			return nil, fmt.Errorf("get_accounts from %d: %w", from, err)
		}

		var page []PoolAccount
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &MalformedDataError{Method: "get_accounts", Err: err}
		}

		accounts = append(accounts, page...)
		if len(page) < constants.AccountsPageLimit {
			return accounts, nil
		}
		from += len(page)
	}
}

// PoolAccount returns a single delegator's balances on the pool contract.
func (c *Client) PoolAccount(ctx context.Context, poolID, accountID string) (*PoolAccount, error) {
	raw, err := c.CallFunction(ctx, poolID, "get_account", map[string]string{"account_id": accountID})
	if err != nil {
		return nil, err
	}

	var account PoolAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, &MalformedDataError{Method: "get_account", Err: err}
	}
	return &account, nil
}

// PoolAccountAt returns a delegator's pool balances as of a historical
// block height. Used to resolve unstake_all and withdraw_all amounts from
// the balance just before the transaction executed.
func (c *Client) PoolAccountAt(ctx context.Context, poolID, accountID string, height uint64) (*PoolAccount, error) {
	raw, err := c.CallFunctionAt(ctx, poolID, "get_account", map[string]string{"account_id": accountID}, height)
	if err != nil {
		return nil, err
	}

	var account PoolAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, &MalformedDataError{Method: "get_account", Err: err}
	}
	return &account, nil
}
