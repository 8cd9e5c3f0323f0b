package opcode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerwatch/namedb/internal/model"
	"github.com/ledgerwatch/namedb/internal/opcode"
)

func TestPreorderToRegistrationIsAllowed(t *testing.T) {
	cat := opcode.New()
	allowed, err := cat.AllowedNext(model.NamePreorder, model.NameRegistration)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestRegistrationCannotFollowItself(t *testing.T) {
	cat := opcode.New()
	allowed, err := cat.AllowedNext(model.NameRegistration, model.NameRegistration)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestRevokeIsTerminal(t *testing.T) {
	cat := opcode.New()
	for _, next := range []model.Opcode{model.NameUpdate, model.NameTransfer, model.NameRenewal, model.NameRevoke} {
		allowed, err := cat.AllowedNext(model.NameRevoke, next)
		require.NoError(t, err)
		require.False(t, allowed, "revoke should not be followed by %s", next)
	}
}

func TestUnknownOpcodeErrors(t *testing.T) {
	cat := opcode.New()
	_, err := cat.AllowedNext(model.Opcode("BOGUS"), model.NameUpdate)
	require.Error(t, err)
	var unknown opcode.ErrUnknownOpcode
	require.ErrorAs(t, err, &unknown)
}

func TestNamespaceRevealToImportIsAllowed(t *testing.T) {
	cat := opcode.New()
	allowed, err := cat.AllowedNext(model.NamespaceReveal, model.NameImport)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestImportConsensusFieldsMatchRegistration(t *testing.T) {
	cat := opcode.New()
	importFields, err := cat.ConsensusFields(model.NameImport)
	require.NoError(t, err)
	regFields, err := cat.ConsensusFields(model.NameRegistration)
	require.NoError(t, err)
	require.Equal(t, regFields, importFields)
}

func TestCreationClassification(t *testing.T) {
	cat := opcode.New()

	isCreation, err := cat.IsCreation(model.NameRegistration)
	require.NoError(t, err)
	require.True(t, isCreation)

	isImport, err := cat.IsImport(model.NameImport)
	require.NoError(t, err)
	require.True(t, isImport)

	// NAME_IMPORT bypasses the preorder flow entirely: it is never
	// classified as a creation op even though it creates new state.
	isCreation, err = cat.IsCreation(model.NameImport)
	require.NoError(t, err)
	require.False(t, isCreation)
}

func TestNamespaceOpClassificationCoversBothPreorderClasses(t *testing.T) {
	cat := opcode.New()

	for _, op := range []model.Opcode{model.NamespacePreorder, model.NamespaceReveal, model.NamespaceReady} {
		isNamespace, err := cat.IsNamespaceOp(op)
		require.NoError(t, err)
		require.True(t, isNamespace, "%s should be classified as a namespace op", op)
	}
	for _, op := range []model.Opcode{model.NamePreorder, model.NameRegistration, model.NameImport} {
		isNamespace, err := cat.IsNamespaceOp(op)
		require.NoError(t, err)
		require.False(t, isNamespace, "%s should not be classified as a namespace op", op)
	}
}

func TestMutateAllOpsDeclareSentinel(t *testing.T) {
	cat := opcode.New()
	for _, op := range []model.Opcode{model.NameRegistration, model.NameImport, model.NamespaceReveal} {
		fields, err := cat.MutateFields(op)
		require.NoError(t, err)
		require.Equal(t, []string{opcode.MutateAll}, fields)
	}
}
