// Package relay implements the custodial signing path: operation validation,
// key-vault backed signing, and the broadcast facade that routes custodial
// and self-custody traffic.
package relay

import (
	"encoding/json"
	"net/url"

	"github.com/hivewager/custodian/internal/domain"
)

// customJSONIDAllowlist restricts custom_json operations to well-known
// application protocols. Anything else sharing the transport (token
// transfers, third-party games) is rejected at the relay. Part of the
// security contract, not configuration.
var customJSONIDAllowlist = map[string]struct{}{
	"follow":    {},
	"reblog":    {},
	"community": {},
	"notify":    {},
	"rc":        {},
}

// profileFieldAllowlist is the constrained sub-schema of profile fields an
// account_update2 may carry inside the namespaced posting metadata.
var profileFieldAllowlist = map[string]struct{}{
	"name":          {},
	"about":         {},
	"location":      {},
	"website":       {},
	"profile_image": {},
	"cover_image":   {},
}

// profileURLFields are profile fields whose values must be well-formed
// http(s) URLs. Active schemes such as javascript: are rejected.
var profileURLFields = map[string]struct{}{
	"website":       {},
	"profile_image": {},
	"cover_image":   {},
}

// ValidateOperations is the single security boundary between "a user asked
// to do X" and "X is broadcast under custodial authority". It must run
// before every custodial broadcast, with no bypass path.
//
// It rejects: an empty batch, any operation outside the closed allowlist,
// and any operation whose ownership fields do not name actor.
func ValidateOperations(ops []domain.Operation, actor string) error {
	if len(ops) == 0 {
		return &domain.ValidationError{Field: "operations", Reason: "operation batch is empty"}
	}
	for _, op := range ops {
		if err := validateOperation(op, actor); err != nil {
			return err
		}
	}
	return nil
}

func validateOperation(op domain.Operation, actor string) error {
	switch v := op.(type) {
	case domain.VoteOperation:
		return requireActor(domain.OpVote, "voter", v.Voter, actor)
	case domain.CommentOperation:
		return requireActor(domain.OpComment, "author", v.Author, actor)
	case domain.CommentOptionsOperation:
		return requireActor(domain.OpCommentOptions, "author", v.Author, actor)
	case domain.DeleteCommentOperation:
		return requireActor(domain.OpDeleteComment, "author", v.Author, actor)
	case domain.CustomJSONOperation:
		return validateCustomJSON(v, actor)
	case domain.AccountUpdate2Operation:
		return validateAccountUpdate2(v, actor)
	default:
		return &domain.ValidationError{Field: "type", Got: string(op.OpType()), Reason: "operation type is not allowed through the relay"}
	}
}

func requireActor(op domain.OpType, field, got, actor string) error {
	if got != actor {
		return &domain.ValidationError{Op: op, Field: field, Got: got, Want: actor, Reason: "operation does not belong to the authenticated user"}
	}
	return nil
}

// validateCustomJSON enforces the posting-authority-only contract: the relay
// holds posting keys, so any operation demanding an active-authority signer
// is impossible to sign honestly and is rejected outright.
func validateCustomJSON(op domain.CustomJSONOperation, actor string) error {
	if len(op.RequiredAuths) != 0 {
		return &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "required_auths",
			Got: op.RequiredAuths[0], Reason: "active-authority signers are not allowed through the relay",
		}
	}

	found := false
	for _, a := range op.RequiredPostingAuths {
		if a == actor {
			found = true
		} else {
			return &domain.ValidationError{
				Op: domain.OpCustomJSON, Field: "required_posting_auths",
				Got: a, Want: actor, Reason: "posting signer is not the authenticated user",
			}
		}
	}
	if !found {
		return &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "required_posting_auths",
			Want: actor, Reason: "authenticated user missing from posting signers",
		}
	}

	if _, ok := customJSONIDAllowlist[op.ID]; !ok {
		return &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "id",
			Got: op.ID, Reason: "custom_json id is not allowed through the relay",
		}
	}
	return nil
}

// validateAccountUpdate2 blocks authority escalation: the relay must never
// be able to change the keys that control an account, and raw metadata is
// rejected in favor of a constrained profile sub-schema.
func validateAccountUpdate2(op domain.AccountUpdate2Operation, actor string) error {
	if err := requireActor(domain.OpAccountUpdate2, "account", op.Account, actor); err != nil {
		return err
	}

	if len(op.Owner) != 0 {
		return escalation("owner")
	}
	if len(op.Active) != 0 {
		return escalation("active")
	}
	if len(op.Posting) != 0 {
		return escalation("posting")
	}
	if op.MemoKey != "" {
		return escalation("memo_key")
	}

	if op.JSONMetadata != "" {
		return &domain.ValidationError{
			Op: domain.OpAccountUpdate2, Field: "json_metadata",
			Reason: "raw metadata changes are not allowed; use the profile sub-schema",
		}
	}

	if op.PostingJSONMetadata != "" {
		if err := validateProfileMetadata(op.PostingJSONMetadata); err != nil {
			return err
		}
	}
	return nil
}

func escalation(field string) error {
	return &domain.ValidationError{
		Op: domain.OpAccountUpdate2, Field: field,
		Reason: "authority changes are not allowed through the relay",
	}
}

// validateProfileMetadata checks that posting metadata is exactly a
// {"profile": {...}} document whose keys come from the profile allowlist
// and whose URL-valued fields use http or https.
func validateProfileMetadata(raw string) error {
	reject := func(field, got, reason string) error {
		return &domain.ValidationError{Op: domain.OpAccountUpdate2, Field: field, Got: got, Reason: reason}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return reject("posting_json_metadata", "", "metadata is not a JSON object")
	}
	for key := range doc {
		if key != "profile" {
			return reject("posting_json_metadata", key, "only the profile namespace is allowed")
		}
	}

	var profile map[string]string
	if err := json.Unmarshal(doc["profile"], &profile); err != nil {
		return reject("posting_json_metadata.profile", "", "profile is not an object of string fields")
	}

	for key, val := range profile {
		if _, ok := profileFieldAllowlist[key]; !ok {
			return reject("posting_json_metadata.profile", key, "profile field is not allowed")
		}
		if _, isURL := profileURLFields[key]; !isURL {
			continue
		}
		u, err := url.Parse(val)
		if err != nil || u.Host == "" {
			return reject("posting_json_metadata.profile."+key, val, "not a well-formed URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return reject("posting_json_metadata.profile."+key, val, "URL scheme must be http or https")
		}
	}
	return nil
}
