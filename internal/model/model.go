// Package model holds the strongly-typed record variants that replace the
// dynamic row/dict representation of the original implementation.
package model

// Opcode identifies a naming-system operation as decoded by the
// ingestion driver. The catalog in internal/opcode is the source of
// truth for which opcodes exist and how they relate to each other.
type Opcode string

const (
	NamePreorder      Opcode = "NAME_PREORDER"
	NameRegistration   Opcode = "NAME_REGISTRATION"
	NameUpdate         Opcode = "NAME_UPDATE"
	NameTransfer       Opcode = "NAME_TRANSFER"
	NameRenewal        Opcode = "NAME_RENEWAL"
	NameRevoke         Opcode = "NAME_REVOKE"
	NameImport         Opcode = "NAME_IMPORT"
	NamespacePreorder  Opcode = "NAMESPACE_PREORDER"
	NamespaceReveal    Opcode = "NAMESPACE_REVEAL"
	NamespaceReady     Opcode = "NAMESPACE_READY"
)

// Preorder is a commitment to register a name or namespace before its
// plaintext is revealed on-chain.
type Preorder struct {
	PreorderHash  string
	ConsensusHash string
	Sender        string
	SenderPubkey  *string
	Address       string
	BlockNumber   int64
	Op            Opcode
	OpFee         int64
	Txid          string
	Vtxindex      int64
}

// Namespace is one incarnation of a namespace's reveal/ready lifecycle.
// The table's primary key is (NamespaceID, BlockNumber) per the
// compound-key lifecycle.
type Namespace struct {
	NamespaceID        string
	BlockNumber        int64
	PreorderHash        string
	Version            int64
	Sender             string
	SenderPubkey       *string
	Address            *string
	Recipient          string
	RecipientAddress   *string
	RevealBlock        int64
	ReadyBlock         int64
	Op                 Opcode // NAMESPACE_REVEAL | NAMESPACE_READY
	OpFee              int64
	Txid               string
	Vtxindex           int64
	Lifetime           int64
	Coeff              int64
	Base               int64
	Buckets            [16]int64
	NonalphaDiscount   int64
	NoVowelDiscount    int64
}

// NameRecord is one incarnation of a name's registration lifecycle.
// The primary key is (Name, BlockNumber).
type NameRecord struct {
	Name                   string
	BlockNumber            int64
	PreorderHash           string
	NameHash128            string
	NamespaceID            string
	NamespaceBlockNumber   int64
	ValueHash              *string
	Sender                 string
	SenderPubkey           *string
	Address                *string
	PreorderBlockNumber    int64
	FirstRegistered        int64
	LastRenewed            int64
	Revoked                bool
	Op                     Opcode
	Txid                   string
	Vtxindex               int64
	OpFee                  int64
	Importer               *string
	ImporterAddress        *string
	ConsensusHash          *string
}

// OpcodeOf reads an "op" field out of a column-keyed field map,
// accepting either a model.Opcode or the plain string a table-row
// renderer (store.NameRecordFields and friends) stores it as.
func OpcodeOf(fields map[string]interface{}) Opcode {
	switch v := fields["op"].(type) {
	case Opcode:
		return v
	case string:
		return Opcode(v)
	default:
		return ""
	}
}

// HistoryEntry records one applied operation's effect on an entity, as
// either a full consensus-field snapshot or a delta of backup fields.
// The primary key is (Txid, HistoryID, BlockID, Vtxindex).
type HistoryEntry struct {
	Txid        string
	HistoryID   string
	BlockID     int64
	Vtxindex    int64
	Op          Opcode
	HistoryData map[string]interface{}
}

// IsSnapshot reports whether this entry's HistoryData is a full
// consensus-field snapshot rather than a delta against the prior state.
func (h HistoryEntry) IsSnapshot() bool {
	v, ok := h.HistoryData["history_snapshot"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
