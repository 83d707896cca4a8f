package core

import "fmt"

// RejectionReason is returned when the engine refuses to commit anything at
// all, not even fee payments — the transaction is as if never submitted.
type RejectionReason struct {
	Kind  string
	Cause error
}

func (r *RejectionReason) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("rejected (%s): %v", r.Kind, r.Cause)
	}
	return fmt.Sprintf("rejected: %s", r.Kind)
}

func (r *RejectionReason) Unwrap() error { return r.Cause }

func NewRejection(kind string, cause error) *RejectionReason {
	return &RejectionReason{Kind: kind, Cause: cause}
}

const (
	RejectErrorBeforeLoanRepaid = "ErrorBeforeLoanAndDeferredCostsRepaid"
	RejectSuccessButLoanUnpaid  = "SuccessButFeeLoanNotRepaid"
	RejectEpochOutOfRange       = "TransactionEpochOutOfRange"
	RejectDuplicateIntent       = "DuplicateIntent"
)

// RuntimeError is a commit-failure: fees are collected, other state writes
// roll back, and the receipt records the error. Kind names one of the
// taxonomy buckets from spec.md §7 (KernelError, SystemError,
// SystemModuleError, ApplicationError, VmError); Code is the specific error
// within that bucket.
type RuntimeError struct {
	Kind    string
	Code    string
	Detail  string
	Wrapped error
}

func (e *RuntimeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s::%s: %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s::%s", e.Kind, e.Code)
}

func (e *RuntimeError) Unwrap() error { return e.Wrapped }

func kernelErr(code, detail string) *RuntimeError {
	return &RuntimeError{Kind: "KernelError", Code: code, Detail: detail}
}

func systemErr(code, detail string) *RuntimeError {
	return &RuntimeError{Kind: "SystemError", Code: code, Detail: detail}
}

func moduleErr(code, detail string) *RuntimeError {
	return &RuntimeError{Kind: "SystemModuleError", Code: code, Detail: detail}
}

func appErr(code, detail string) *RuntimeError {
	return &RuntimeError{Kind: "ApplicationError", Code: code, Detail: detail}
}

func vmErr(code, detail string) *RuntimeError {
	return &RuntimeError{Kind: "VmError", Code: code, Detail: detail}
}

// Well-known KernelError codes (spec.md §4.1, §4.2, §7).
var (
	ErrDuplicateNode            = func(id NodeID) error { return kernelErr("DuplicateNode", id.String()) }
	ErrNodeIDEntityTypeMismatch = func() error { return kernelErr("NodeIdEntityTypeMismatch", "") }
	ErrTransientForGlobal       = func() error { return kernelErr("TransientForGlobalEntityType", "") }
	ErrNodeNotOwned             = func(id NodeID) error { return kernelErr("NodeNotOwned", id.String()) }
	ErrSubstateStillOpen        = func() error { return kernelErr("SubstateStillOpen", "") }
	ErrSourceNotOwned           = func() error { return kernelErr("SourceNotOwned", "") }
	ErrDestinationNotOwned      = func() error { return kernelErr("DestinationNotOwned", "") }
	ErrOverlap                  = func() error { return kernelErr("Overlap", "") }
	ErrNotFound                 = func(addr SubstateAddress) error { return kernelErr("NotFound", addr.lockKey()) }
	ErrLockConflict             = func(addr SubstateAddress) error { return kernelErr("LockConflict", addr.lockKey()) }
	ErrInvalidNode              = func() error { return kernelErr("InvalidNode", "") }
	ErrPartitionForbidden       = func() error { return kernelErr("PartitionForbiddenByVisibility", "") }
	ErrHandleUnknown            = func() error { return kernelErr("HandleUnknown", "") }
	ErrNotWritable              = func() error { return kernelErr("NotWritable", "") }
	ErrTransientWrittenToTrack  = func() error { return kernelErr("TransientWrittenToTrack", "") }
	ErrForcedWriteMissing       = func() error { return kernelErr("ForcedWriteMissing", "") }
	ErrCollectionKindMismatch   = func() error { return kernelErr("CollectionKindMismatch", "") }
	ErrPassMessage              = func(detail string) error { return kernelErr("PassMessageError", detail) }
	ErrOrphanedNodes            = func(ids []NodeID) error {
		return kernelErr("OrphanedNodes", fmt.Sprintf("%v", ids))
	}
	ErrInvalidReference    = func() error { return kernelErr("InvalidReference", "") }
	ErrInvalidDirectAccess = func() error { return kernelErr("InvalidDirectAccess", "") }
	ErrCloseSubstate       = func(detail string) error { return kernelErr("CloseSubstateError", detail) }
	ErrLockDoesNotExist    = func() error { return kernelErr("LockDoesNotExist", "") }
	ErrInvalidInvokeAccess = func() error { return kernelErr("InvalidInvokeAccess", "") }
)

// Well-known SystemError codes.
var (
	ErrNotAnObject           = func() error { return systemErr("NotAnObject", "") }
	ErrKeyValueEntryLocked   = func() error { return systemErr("KeyValueEntryLocked", "") }
	ErrAlreadyGlobalized     = func() error { return systemErr("CannotGlobalize.AlreadyGlobalized", "") }
	ErrInvalidBlueprintID    = func() error { return systemErr("CannotGlobalize.InvalidBlueprintId", "") }
	ErrTypeCheckFailed       = func(payload string) error { return systemErr("TypeCheckError", payload) }
	ErrAssertAccessRuleFail  = func() error { return systemErr("AssertAccessRuleFailed", "") }
)

// Well-known SystemModuleError codes.
var (
	ErrUnauthorized = func(actor, rule string) error {
		return moduleErr("AuthError::Unauthorized", fmt.Sprintf("actor=%s rule=%s", actor, rule))
	}
	ErrFeeReserveInsufficient = func() error { return moduleErr("CostingError::FeeReserveError::InsufficientBalance", "") }
	ErrFeeReserveLimitExceeded = func() error { return moduleErr("CostingError::FeeReserveError::LimitExceeded", "") }
	ErrMaxCallDepth           = func() error { return moduleErr("TransactionLimitsError::MaxCallDepthLimitReached", "") }
	ErrMaxSubstateSize        = func() error { return moduleErr("TransactionLimitsError::MaxSubstateSizeExceeded", "") }
	ErrMaxEventSize           = func() error { return moduleErr("TransactionLimitsError::MaxEventSizeExceeded", "") }
	ErrMaxLogSize             = func() error { return moduleErr("TransactionLimitsError::MaxLogSizeExceeded", "") }
)

// Well-known ApplicationError codes (native resource blueprints).
var (
	ErrLockFeeInsufficientBalance = func() error { return appErr("VaultError::LockFeeInsufficientBalance", "") }
	ErrVaultInsufficientBalance   = func() error { return appErr("VaultError::InsufficientBalance", "") }
	ErrDropNonEmptyBucket         = func() error { return appErr("NonFungibleResourceManagerError::DropNonEmptyBucket", "") }
	ErrBucketMismatchedResource   = func() error { return appErr("BucketError::MismatchedResource", "") }
	ErrProofOvercommit            = func() error { return appErr("ProofError::OvercommittedProof", "") }
	ErrWorktopNotEmptyOnEnd       = func() error { return appErr("WorktopError::NonEmptyAtEnd", "") }
	ErrRoleAssignmentNameLen      = func() error { return appErr("RoleAssignmentError::ExceededMaxRoleNameLen", "") }
	ErrRoleAssignmentReservedRole = func() error { return appErr("RoleAssignmentError::UsedReservedRole", "") }
)

// Well-known VmError codes.
var (
	ErrVMTrap        = func(msg string) error { return vmErr("Trap", msg) }
	ErrVMPanic       = func(msg string) error { return vmErr("Panic", msg) }
	ErrVMInvalidExport = func(name string) error { return vmErr("InvalidExport", name) }
)
