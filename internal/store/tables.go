package store

// Table and column name registry for the four entity tables. Record
// operators validate every insert/update against these lists rather
// than against a live PRAGMA table_info() call, so a schema drift is
// caught at the call site instead of surfacing as a cryptic SQL error.

const (
	PreordersTable   = "preorders"
	NamespacesTable  = "namespaces"
	NameRecordsTable = "name_records"
	HistoryTable     = "history"
)

/*
Logical layout of preorders:
	Key: preorder_hash
	Value: the sender's commitment to reveal a name or namespace later,
	consumed exactly once by the matching creation operation.
*/
var PreorderColumns = []string{
	"preorder_hash", "consensus_hash", "sender", "sender_pubkey",
	"address", "block_number", "op", "op_fee", "txid", "vtxindex",
}

/*
Logical layout of namespaces:
	Key: (namespace_id, block_number)
	Value: one incarnation of a namespace's reveal/ready lifecycle,
	carrying its price-function parameters.
*/
var NamespaceColumns = []string{
	"namespace_id", "block_number", "preorder_hash", "version", "sender",
	"sender_pubkey", "address", "recipient", "recipient_address",
	"reveal_block", "ready_block", "op", "op_fee", "txid", "vtxindex",
	"lifetime", "coeff", "base", "buckets", "nonalpha_discount",
	"no_vowel_discount",
}

/*
Logical layout of name_records:
	Key: (name, block_number)
	Value: one incarnation of a name's registration lifecycle, foreign-keyed
	to the namespace incarnation that admitted it.
*/
var NameRecordColumns = []string{
	"name", "block_number", "preorder_hash", "name_hash128",
	"namespace_id", "namespace_block_number", "value_hash", "sender",
	"sender_pubkey", "address", "preorder_block_number",
	"first_registered", "last_renewed", "revoked", "op", "txid",
	"vtxindex", "op_fee", "importer", "importer_address", "consensus_hash",
}

/*
Logical layout of history:
	Key: (txid, history_id, block_id, vtxindex)
	Value: a JSON-encoded delta or full snapshot of the entity named by
	history_id as of this operation.
*/
var HistoryColumns = []string{
	"txid", "history_id", "block_id", "vtxindex", "op", "history_data",
}

// ColumnsOf returns the registered column set for a table name, or nil
// if the table is unknown.
func ColumnsOf(table string) []string {
	switch table {
	case PreordersTable:
		return PreorderColumns
	case NamespacesTable:
		return NamespaceColumns
	case NameRecordsTable:
		return NameRecordColumns
	case HistoryTable:
		return HistoryColumns
	default:
		return nil
	}
}
