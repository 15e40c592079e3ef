// Package gateway contains the contract for the push gateway consumed by the
// pusher, together with the request and response types it exchanges.
package gateway

import "context"

// Provider-imposed ceilings. Callers issue one Gateway request per chunk.
const (
	// MaxTagPairsPerCall bounds BatchSetTag and BatchRemoveTag.
	MaxTagPairsPerCall = 20
	// MaxAccountsPerPush bounds PushToAccounts.
	MaxAccountsPerPush = 100
	// MaxBatchRecipients bounds PushBatchToAccounts and PushBatchToDevices.
	MaxBatchRecipients = 1000
)

// Gateway defines the capability set of the push gateway.
//
// A non-nil error means the call did not complete (transport, context). A
// completed call reports rejection through a non-zero Response.RetCode.
type Gateway interface {
	// PushToDevice sends a message to a single device token.
	PushToDevice(ctx context.Context, token string, msg Message, env Environment) (*Response, error)
	// PushToAll sends a message to every registered device.
	PushToAll(ctx context.Context, msg Message, env Environment) (*Response, error)
	// PushToAccount sends a message to every device bound to the account.
	PushToAccount(ctx context.Context, account string, msg Message, env Environment) (*Response, error)
	// PushToAccounts sends a message to at most MaxAccountsPerPush accounts.
	PushToAccounts(ctx context.Context, accounts []string, msg Message, env Environment) (*Response, error)
	// PushToTags sends a message to devices matching the tags under op.
	PushToTags(ctx context.Context, tags []string, op Operator, msg Message, env Environment) (*Response, error)

	// CreateBatch registers a message for batch pushing. The push id is in result.push_id.
	CreateBatch(ctx context.Context, msg Message, env Environment) (*Response, error)
	// PushBatchToAccounts pushes a created batch to at most MaxBatchRecipients accounts.
	PushBatchToAccounts(ctx context.Context, pushID string, accounts []string) (*Response, error)
	// PushBatchToDevices pushes a created batch to at most MaxBatchRecipients tokens.
	PushBatchToDevices(ctx context.Context, pushID string, tokens []string) (*Response, error)
	// QueryPushStatus reports each push in result.list.
	QueryPushStatus(ctx context.Context, pushIDs []string) (*Response, error)
	// CancelTimedPush cancels a scheduled push that has not been sent yet.
	CancelTimedPush(ctx context.Context, pushID string) (*Response, error)

	// BatchSetTag adds at most MaxTagPairsPerCall pairs.
	BatchSetTag(ctx context.Context, pairs []TagTokenPair) (*Response, error)
	// BatchRemoveTag removes at most MaxTagPairsPerCall pairs.
	BatchRemoveTag(ctx context.Context, pairs []TagTokenPair) (*Response, error)
	// QueryTagsForToken lists the tags of a token in result.tags.
	QueryTagsForToken(ctx context.Context, token string) (*Response, error)
	// QueryTokensForAccount lists the tokens of an account in result.tokens.
	QueryTokensForAccount(ctx context.Context, account string) (*Response, error)

	DeleteTokenOfAccount(ctx context.Context, account, token string) (*Response, error)
	DeleteAllTokensOfAccount(ctx context.Context, account string) (*Response, error)
	// QueryDeviceCount reports result.device_num.
	QueryDeviceCount(ctx context.Context) (*Response, error)
	QueryTokenInfo(ctx context.Context, token string) (*Response, error)
	// QueryTagTokenCount reports result.device_num for one tag.
	QueryTagTokenCount(ctx context.Context, tag string) (*Response, error)
	// QueryTags pages the known tags into result.tags with result.total.
	QueryTags(ctx context.Context, start, limit int) (*Response, error)
}
