package domain

import (
	"encoding/json"
	"fmt"
)

// OpType identifies a ledger operation type. Only the types below are legal
// through the custodial relay; the set is part of the security contract, not
// runtime configuration.
type OpType string

const (
	OpVote           OpType = "vote"
	OpComment        OpType = "comment"
	OpCommentOptions OpType = "comment_options"
	OpCustomJSON     OpType = "custom_json"
	OpDeleteComment  OpType = "delete_comment"
	OpAccountUpdate2 OpType = "account_update2"
)

// Operation is one variant of the closed set of ledger operations. The wire
// form is a [type, body] pair, matching the ledger's JSON-RPC broadcast
// format.
type Operation interface {
	OpType() OpType
}

// VoteOperation up- or down-votes a post or comment.
type VoteOperation struct {
	Voter    string `json:"voter"`
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
	Weight   int16  `json:"weight"`
}

func (VoteOperation) OpType() OpType { return OpVote }

// CommentOperation creates or edits a post or comment.
type CommentOperation struct {
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	JSONMetadata   string `json:"json_metadata"`
}

func (CommentOperation) OpType() OpType { return OpComment }

// CommentOptionsOperation sets payout and curation options on a comment.
type CommentOptionsOperation struct {
	Author               string            `json:"author"`
	Permlink             string            `json:"permlink"`
	MaxAcceptedPayout    string            `json:"max_accepted_payout"`
	PercentHBD           uint16            `json:"percent_hbd"`
	AllowVotes           bool              `json:"allow_votes"`
	AllowCurationRewards bool              `json:"allow_curation_rewards"`
	Extensions           []json.RawMessage `json:"extensions"`
}

func (CommentOptionsOperation) OpType() OpType { return OpCommentOptions }

// DeleteCommentOperation removes a post or comment.
type DeleteCommentOperation struct {
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
}

func (DeleteCommentOperation) OpType() OpType { return OpDeleteComment }

// CustomJSONOperation carries an application-level JSON payload. Accounts in
// RequiredAuths sign with their active key; accounts in RequiredPostingAuths
// sign with their posting key.
type CustomJSONOperation struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

func (CustomJSONOperation) OpType() OpType { return OpCustomJSON }

// AccountUpdate2Operation updates account metadata and, when the authority
// fields are present, account keys. The relay never signs key changes; the
// fields exist so the validator can reject them explicitly.
type AccountUpdate2Operation struct {
	Account             string          `json:"account"`
	Owner               json.RawMessage `json:"owner,omitempty"`
	Active              json.RawMessage `json:"active,omitempty"`
	Posting             json.RawMessage `json:"posting,omitempty"`
	MemoKey             string          `json:"memo_key,omitempty"`
	JSONMetadata        string          `json:"json_metadata"`
	PostingJSONMetadata string          `json:"posting_json_metadata"`
	Extensions          []json.RawMessage `json:"extensions"`
}

func (AccountUpdate2Operation) OpType() OpType { return OpAccountUpdate2 }

// MarshalOperation encodes an operation as its wire-form [type, body] pair.
func MarshalOperation(op Operation) (json.RawMessage, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("domain: marshal %s body: %w", op.OpType(), err)
	}
	pair := [2]json.RawMessage{}
	pair[0], _ = json.Marshal(string(op.OpType()))
	pair[1] = body
	out, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("domain: marshal %s pair: %w", op.OpType(), err)
	}
	return out, nil
}

// DecodeOperation parses a wire-form [type, body] pair into its concrete
// operation variant. Unknown types return an error rather than a dynamic
// catch-all, so downstream checks stay exhaustive.
func DecodeOperation(raw json.RawMessage) (Operation, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return nil, fmt.Errorf("domain: operation is not a [type, body] pair: %w", err)
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("domain: operation pair has %d elements, want 2", len(pair))
	}

	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return nil, fmt.Errorf("domain: operation type is not a string: %w", err)
	}

	var (
		op  Operation
		err error
	)
	switch OpType(name) {
	case OpVote:
		var v VoteOperation
		err = json.Unmarshal(pair[1], &v)
		op = v
	case OpComment:
		var v CommentOperation
		err = json.Unmarshal(pair[1], &v)
		op = v
	case OpCommentOptions:
		var v CommentOptionsOperation
		err = json.Unmarshal(pair[1], &v)
		op = v
	case OpDeleteComment:
		var v DeleteCommentOperation
		err = json.Unmarshal(pair[1], &v)
		op = v
	case OpCustomJSON:
		var v CustomJSONOperation
		err = json.Unmarshal(pair[1], &v)
		op = v
	case OpAccountUpdate2:
		var v AccountUpdate2Operation
		err = json.Unmarshal(pair[1], &v)
		op = v
	default:
		return nil, fmt.Errorf("domain: unknown operation type %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("domain: decode %s body: %w", name, err)
	}
	return op, nil
}

// DecodeOperations parses a batch of wire-form operation pairs.
func DecodeOperations(raws []json.RawMessage) ([]Operation, error) {
	ops := make([]Operation, 0, len(raws))
	for i, raw := range raws {
		op, err := DecodeOperation(raw)
		if err != nil {
			return nil, fmt.Errorf("domain: operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
