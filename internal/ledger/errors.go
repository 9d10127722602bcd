package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-protos-go-apiv2/gateway"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrConnection reports a failure to open, use or reach a session.
	ErrConnection = errors.New("ledger connection error")
	// ErrNotFound reports an unknown channel or contract.
	ErrNotFound = errors.New("ledger resource not found")
	// ErrSubmission reports a transaction that was rejected or did not commit.
	ErrSubmission = errors.New("transaction submission failed")
)

// Stage names the step of the transaction flow that failed.
type Stage string

// Transaction flow stages.
const (
	StageProposal     Stage = "proposal"
	StageEndorse      Stage = "endorse"
	StageSubmit       Stage = "submit"
	StageCommitStatus Stage = "commit status"
	StageCommit       Stage = "commit"
)

// SubmitError describes a failed transaction. It matches ErrSubmission, and
// ErrConnection as well when the gateway peer could not be reached, or
// ErrNotFound when the peer does not know the channel or chaincode.
type SubmitError struct {
	// Transaction is the contract transaction name.
	Transaction string
	// TransactionID is empty when the proposal could not be built.
	TransactionID string
	// Stage is where the flow stopped.
	Stage Stage
	// Code is the validation code of a transaction that committed invalid.
	Code string
	// Err is the underlying gateway error, nil for invalid commits.
	Err error
}

func newSubmitError(transaction, txID string, stage Stage, err error) *SubmitError {
	return &SubmitError{
		Transaction:   transaction,
		TransactionID: txID,
		Stage:         stage,
		Err:           err,
	}
}

// Error implements error.
func (e *SubmitError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s failed", e.Transaction, e.Stage)

	if e.TransactionID != "" {
		fmt.Fprintf(&b, " (tx %s)", e.TransactionID)
	}

	if e.Code != "" {
		fmt.Fprintf(&b, ": validation code %s", e.Code)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)

		if details := errorDetails(e.Err); details != "" {
			b.WriteString(" [")
			b.WriteString(details)
			b.WriteString("]")
		}
	}

	return b.String()
}

// Unwrap returns the gateway error.
func (e *SubmitError) Unwrap() error {
	return e.Err
}

// Is matches ErrSubmission, ErrConnection for unreachable peers and
// ErrNotFound for an unknown channel or chaincode.
func (e *SubmitError) Is(target error) bool {
	switch target {
	case ErrSubmission:
		return true
	case ErrConnection:
		return e.Err != nil && isUnavailable(e.Err)
	case ErrNotFound:
		return e.Err != nil && status.Code(e.Err) == codes.NotFound
	default:
		return false
	}
}

// isUnavailable reports transport level gRPC failures.
func isUnavailable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// errorDetails flattens the per-peer details the gateway attaches to errors.
func errorDetails(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}

	var parts []string

	for _, detail := range st.Details() {
		if d, ok := detail.(*gateway.ErrorDetail); ok {
			parts = append(parts, fmt.Sprintf("%s (%s): %s", d.GetAddress(), d.GetMspId(), d.GetMessage()))
		}
	}

	return strings.Join(parts, "; ")
}
