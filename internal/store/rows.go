package store

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerwatch/namedb/internal/model"
)

// ScanNameRecord reads one name_records row, coercing revoked from its
// stored 0/1 integer into a bool and rejecting any other value as an
// invariant violation rather than silently truncating it.
func ScanNameRecord(row interface {
	Scan(dest ...interface{}) error
}) (model.NameRecord, error) {
	var r model.NameRecord
	var revoked int64
	if err := row.Scan(
		&r.Name, &r.BlockNumber, &r.PreorderHash, &r.NameHash128,
		&r.NamespaceID, &r.NamespaceBlockNumber, &r.ValueHash, &r.Sender,
		&r.SenderPubkey, &r.Address, &r.PreorderBlockNumber,
		&r.FirstRegistered, &r.LastRenewed, &revoked, &r.Op, &r.Txid,
		&r.Vtxindex, &r.OpFee, &r.Importer, &r.ImporterAddress, &r.ConsensusHash,
	); err != nil {
		return model.NameRecord{}, err
	}
	b, err := coerceRevoked(revoked)
	if err != nil {
		return model.NameRecord{}, fmt.Errorf("store: name_records %s@%d: %w", r.Name, r.BlockNumber, err)
	}
	r.Revoked = b
	return r, nil
}

func coerceRevoked(v int64) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("revoked column holds non-boolean value %d", v)
	}
}

// ScanNamespace reads one namespaces row, decoding the JSON-encoded
// buckets column into its fixed 16-element ordered int sequence.
func ScanNamespace(row interface {
	Scan(dest ...interface{}) error
}) (model.Namespace, error) {
	var n model.Namespace
	var bucketsJSON string
	if err := row.Scan(
		&n.NamespaceID, &n.BlockNumber, &n.PreorderHash, &n.Version,
		&n.Sender, &n.SenderPubkey, &n.Address, &n.Recipient,
		&n.RecipientAddress, &n.RevealBlock, &n.ReadyBlock, &n.Op,
		&n.OpFee, &n.Txid, &n.Vtxindex, &n.Lifetime, &n.Coeff, &n.Base,
		&bucketsJSON, &n.NonalphaDiscount, &n.NoVowelDiscount,
	); err != nil {
		return model.Namespace{}, err
	}
	buckets, err := decodeBuckets(bucketsJSON)
	if err != nil {
		return model.Namespace{}, fmt.Errorf("store: namespaces %s@%d: %w", n.NamespaceID, n.BlockNumber, err)
	}
	n.Buckets = buckets
	return n, nil
}

func decodeBuckets(raw string) ([16]int64, error) {
	var out [16]int64
	var vals []int64
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return out, fmt.Errorf("buckets column is not a JSON int array: %w", err)
	}
	if len(vals) != 16 {
		return out, fmt.Errorf("buckets column holds %d elements, want 16", len(vals))
	}
	copy(out[:], vals)
	return out, nil
}

func encodeBuckets(buckets [16]int64) (string, error) {
	b, err := json.Marshal(buckets[:])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ScanPreorder reads one preorders row.
func ScanPreorder(row interface {
	Scan(dest ...interface{}) error
}) (model.Preorder, error) {
	var p model.Preorder
	if err := row.Scan(
		&p.PreorderHash, &p.ConsensusHash, &p.Sender, &p.SenderPubkey,
		&p.Address, &p.BlockNumber, &p.Op, &p.OpFee, &p.Txid, &p.Vtxindex,
	); err != nil {
		return model.Preorder{}, err
	}
	return p, nil
}

// NamespaceValues renders a Namespace into the ordered argument list
// matching NamespaceColumns, JSON-encoding its buckets array.
func NamespaceValues(n model.Namespace) ([]interface{}, error) {
	bucketsJSON, err := encodeBuckets(n.Buckets)
	if err != nil {
		return nil, fmt.Errorf("store: encode buckets: %w", err)
	}
	return []interface{}{
		n.NamespaceID, n.BlockNumber, n.PreorderHash, n.Version, n.Sender,
		n.SenderPubkey, n.Address, n.Recipient, n.RecipientAddress,
		n.RevealBlock, n.ReadyBlock, n.Op, n.OpFee, n.Txid, n.Vtxindex,
		n.Lifetime, n.Coeff, n.Base, bucketsJSON, n.NonalphaDiscount,
		n.NoVowelDiscount,
	}, nil
}

// NameRecordValues renders a NameRecord into the ordered argument list
// matching NameRecordColumns, coercing Revoked to 0/1.
func NameRecordValues(r model.NameRecord) []interface{} {
	revoked := int64(0)
	if r.Revoked {
		revoked = 1
	}
	return []interface{}{
		r.Name, r.BlockNumber, r.PreorderHash, r.NameHash128,
		r.NamespaceID, r.NamespaceBlockNumber, r.ValueHash, r.Sender,
		r.SenderPubkey, r.Address, r.PreorderBlockNumber,
		r.FirstRegistered, r.LastRenewed, revoked, r.Op, r.Txid,
		r.Vtxindex, r.OpFee, r.Importer, r.ImporterAddress, r.ConsensusHash,
	}
}

// PreorderValues renders a Preorder into the ordered argument list
// matching PreorderColumns.
func PreorderValues(p model.Preorder) []interface{} {
	return []interface{}{
		p.PreorderHash, p.ConsensusHash, p.Sender, p.SenderPubkey,
		p.Address, p.BlockNumber, p.Op, p.OpFee, p.Txid, p.Vtxindex,
	}
}

// PreorderFields renders a Preorder as a column-keyed map, for use with
// recordops.Insert/Update.
func PreorderFields(p model.Preorder) map[string]interface{} {
	return map[string]interface{}{
		"preorder_hash": p.PreorderHash, "consensus_hash": p.ConsensusHash,
		"sender": p.Sender, "sender_pubkey": p.SenderPubkey,
		"address": p.Address, "block_number": p.BlockNumber,
		"op": string(p.Op), "op_fee": p.OpFee, "txid": p.Txid,
		"vtxindex": p.Vtxindex,
	}
}

// NamespaceFields renders a Namespace as a column-keyed map, for use
// with recordops.Insert/Update.
func NamespaceFields(n model.Namespace) (map[string]interface{}, error) {
	bucketsJSON, err := encodeBuckets(n.Buckets)
	if err != nil {
		return nil, fmt.Errorf("store: encode buckets: %w", err)
	}
	return map[string]interface{}{
		"namespace_id": n.NamespaceID, "block_number": n.BlockNumber,
		"preorder_hash": n.PreorderHash, "version": n.Version,
		"sender": n.Sender, "sender_pubkey": n.SenderPubkey,
		"address": n.Address, "recipient": n.Recipient,
		"recipient_address": n.RecipientAddress, "reveal_block": n.RevealBlock,
		"ready_block": n.ReadyBlock, "op": string(n.Op), "op_fee": n.OpFee,
		"txid": n.Txid, "vtxindex": n.Vtxindex, "lifetime": n.Lifetime,
		"coeff": n.Coeff, "base": n.Base, "buckets": bucketsJSON,
		"nonalpha_discount": n.NonalphaDiscount, "no_vowel_discount": n.NoVowelDiscount,
	}, nil
}

// NameRecordFields renders a NameRecord as a column-keyed map, for use
// with recordops.Insert/Update, coercing Revoked to 0/1.
func NameRecordFields(r model.NameRecord) map[string]interface{} {
	revoked := int64(0)
	if r.Revoked {
		revoked = 1
	}
	return map[string]interface{}{
		"name": r.Name, "block_number": r.BlockNumber,
		"preorder_hash": r.PreorderHash, "name_hash128": r.NameHash128,
		"namespace_id": r.NamespaceID, "namespace_block_number": r.NamespaceBlockNumber,
		"value_hash": r.ValueHash, "sender": r.Sender,
		"sender_pubkey": r.SenderPubkey, "address": r.Address,
		"preorder_block_number": r.PreorderBlockNumber,
		"first_registered": r.FirstRegistered, "last_renewed": r.LastRenewed,
		"revoked": revoked, "op": string(r.Op), "txid": r.Txid,
		"vtxindex": r.Vtxindex, "op_fee": r.OpFee, "importer": r.Importer,
		"importer_address": r.ImporterAddress, "consensus_hash": r.ConsensusHash,
	}
}
