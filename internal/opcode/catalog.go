// Package opcode implements the opcode catalog: the classification,
// field-set and sequencing metadata that the state-machine engine
// consults for every operation it applies. The catalog is built once at
// process start and passed into the engine as a plain dependency, never
// reached for as a package-level global, per the "injected object, not a
// singleton" design note.
package opcode

import (
	"fmt"

	"github.com/ledgerwatch/namedb/internal/model"
)

// MutateAll is the sentinel mutate-field value meaning "every consensus
// field changed" — it forces a full-snapshot history entry rather than a
// delta, the Go-native stand-in for the original's literal "all" string.
const MutateAll = "__all__"

// ErrUnknownOpcode is returned by any catalog lookup against an opcode
// that was never registered.
type ErrUnknownOpcode struct {
	Op model.Opcode
}

func (e ErrUnknownOpcode) Error() string {
	return fmt.Sprintf("opcode: unknown opcode %q", e.Op)
}

type entry struct {
	isPreorder   bool
	isCreation   bool
	isTransition bool
	isImport     bool
	isNamespace  bool
	mutateFields []string
	backupFields []string
	consensusFields []string
	next         map[model.Opcode]bool
}

// Catalog is the full set of opcode metadata the engine consults. It is
// immutable after construction and safe for concurrent reads.
type Catalog struct {
	entries map[model.Opcode]entry
}

// New builds the catalog covering every opcode named in the transition
// table: NAME_PREORDER -> NAME_REGISTRATION; NAME_REGISTRATION/UPDATE/
// TRANSFER/RENEWAL -> {UPDATE, TRANSFER, RENEWAL, REVOKE};
// NAMESPACE_PREORDER -> NAMESPACE_REVEAL; NAMESPACE_REVEAL ->
// {NAMESPACE_READY, NAME_IMPORT}; NAME_IMPORT -> {NAME_IMPORT, NAMESPACE_READY}.
func New() *Catalog {
	c := &Catalog{entries: map[model.Opcode]entry{}}

	c.entries[model.NamePreorder] = entry{
		isPreorder: true,
		next:       set(model.NameRegistration),
	}
	c.entries[model.NameRegistration] = entry{
		isCreation:      true,
		mutateFields:    []string{MutateAll},
		backupFields:    nameConsensusFields,
		consensusFields: nameConsensusFields,
		next:            set(model.NameUpdate, model.NameTransfer, model.NameRenewal, model.NameRevoke),
	}
	c.entries[model.NameUpdate] = entry{
		isTransition:    true,
		mutateFields:    []string{"value_hash"},
		backupFields:    []string{"value_hash"},
		consensusFields: nameConsensusFields,
		next:            set(model.NameUpdate, model.NameTransfer, model.NameRenewal, model.NameRevoke),
	}
	c.entries[model.NameTransfer] = entry{
		isTransition:    true,
		mutateFields:    []string{"sender", "sender_pubkey", "address"},
		backupFields:    []string{"sender", "sender_pubkey", "address"},
		consensusFields: nameConsensusFields,
		next:            set(model.NameUpdate, model.NameTransfer, model.NameRenewal, model.NameRevoke),
	}
	c.entries[model.NameRenewal] = entry{
		isTransition:    true,
		mutateFields:    []string{"last_renewed", "op_fee"},
		backupFields:    []string{"last_renewed", "op_fee"},
		consensusFields: nameConsensusFields,
		next:            set(model.NameUpdate, model.NameTransfer, model.NameRenewal, model.NameRevoke),
	}
	c.entries[model.NameRevoke] = entry{
		isTransition:    true,
		mutateFields:    []string{"revoked"},
		backupFields:    []string{"revoked"},
		consensusFields: nameConsensusFields,
		next:            map[model.Opcode]bool{},
	}
	c.entries[model.NameImport] = entry{
		isImport:        true,
		mutateFields:    []string{MutateAll},
		backupFields:    nameConsensusFields,
		consensusFields: nameConsensusFields,
		next:            set(model.NameImport, model.NamespaceReady),
	}

	c.entries[model.NamespacePreorder] = entry{
		isPreorder:  true,
		isNamespace: true,
		next:        set(model.NamespaceReveal),
	}
	c.entries[model.NamespaceReveal] = entry{
		isCreation:      true,
		isNamespace:     true,
		mutateFields:    []string{MutateAll},
		backupFields:    namespaceConsensusFields,
		consensusFields: namespaceConsensusFields,
		next:            set(model.NamespaceReady, model.NameImport),
	}
	c.entries[model.NamespaceReady] = entry{
		isTransition:    true,
		isNamespace:     true,
		mutateFields:    []string{"op", "ready_block"},
		backupFields:    []string{"op", "ready_block"},
		consensusFields: namespaceConsensusFields,
		next:            map[model.Opcode]bool{},
	}

	return c
}

var nameConsensusFields = []string{
	"name", "preorder_hash", "name_hash128", "namespace_id",
	"namespace_block_number", "value_hash", "sender", "sender_pubkey",
	"address", "preorder_block_number", "first_registered", "last_renewed",
	"revoked", "op", "txid", "vtxindex", "op_fee", "importer",
	"importer_address", "consensus_hash",
}

var namespaceConsensusFields = []string{
	"namespace_id", "preorder_hash", "version", "sender", "sender_pubkey",
	"address", "recipient", "recipient_address", "reveal_block",
	"ready_block", "op", "op_fee", "txid", "vtxindex", "lifetime", "coeff",
	"base", "buckets", "nonalpha_discount", "no_vowel_discount",
}

func set(ops ...model.Opcode) map[model.Opcode]bool {
	m := make(map[model.Opcode]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

func (c *Catalog) lookup(op model.Opcode) (entry, error) {
	e, ok := c.entries[op]
	if !ok {
		return entry{}, ErrUnknownOpcode{Op: op}
	}
	return e, nil
}

// AllowedNext reports whether nextOp may legally follow curOp, per the
// catalog's sequence graph. Returns ErrUnknownOpcode if either opcode is
// unregistered.
func (c *Catalog) AllowedNext(curOp, nextOp model.Opcode) (bool, error) {
	e, err := c.lookup(curOp)
	if err != nil {
		return false, err
	}
	if _, err := c.lookup(nextOp); err != nil {
		return false, err
	}
	return e.next[nextOp], nil
}

// MutateFields returns the fields an application of op is declared to
// change. A single element equal to MutateAll means "all consensus
// fields" and forces a full-snapshot history entry.
func (c *Catalog) MutateFields(op model.Opcode) ([]string, error) {
	e, err := c.lookup(op)
	if err != nil {
		return nil, err
	}
	return e.mutateFields, nil
}

// BackupFields returns the fields a delta history entry for op must
// carry.
func (c *Catalog) BackupFields(op model.Opcode) ([]string, error) {
	e, err := c.lookup(op)
	if err != nil {
		return nil, err
	}
	return e.backupFields, nil
}

// ConsensusFields returns every field that participates in a full
// snapshot of the entity as of an application of op.
func (c *Catalog) ConsensusFields(op model.Opcode) ([]string, error) {
	e, err := c.lookup(op)
	if err != nil {
		return nil, err
	}
	return e.consensusFields, nil
}

// IsPreorder reports whether op is a preorder commitment.
func (c *Catalog) IsPreorder(op model.Opcode) (bool, error) {
	e, err := c.lookup(op)
	if err != nil {
		return false, err
	}
	return e.isPreorder, nil
}

// IsCreation reports whether op creates new entity state (REGISTER /
// NAMESPACE_REVEAL class, excluding imports).
func (c *Catalog) IsCreation(op model.Opcode) (bool, error) {
	e, err := c.lookup(op)
	if err != nil {
		return false, err
	}
	return e.isCreation, nil
}

// IsTransition reports whether op mutates existing entity state.
func (c *Catalog) IsTransition(op model.Opcode) (bool, error) {
	e, err := c.lookup(op)
	if err != nil {
		return false, err
	}
	return e.isTransition, nil
}

// IsImport reports whether op is the NAME_IMPORT bypass path.
func (c *Catalog) IsImport(op model.Opcode) (bool, error) {
	e, err := c.lookup(op)
	if err != nil {
		return false, err
	}
	return e.isImport, nil
}

// IsNamespaceOp reports whether op operates on namespaces rather than
// names.
func (c *Catalog) IsNamespaceOp(op model.Opcode) (bool, error) {
	e, err := c.lookup(op)
	if err != nil {
		return false, err
	}
	return e.isNamespace, nil
}
