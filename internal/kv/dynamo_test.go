package kv

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
)

func TestMapTransactErrorConditionalCheckFailed(t *testing.T) {
	err := mapTransactError(&types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
			{Code: aws.String("None")},
		},
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestMapTransactErrorTransactionConflict(t *testing.T) {
	// Two transactions colliding on the same item cancel the loser with a
	// TransactionConflict reason and no failed condition.
	err := mapTransactError(&types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
			{Code: aws.String("None")},
			{Code: aws.String("None")},
		},
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestMapTransactErrorConflictException(t *testing.T) {
	err := mapTransactError(&types.TransactionConflictException{
		Message: aws.String("Transaction is ongoing for the item"),
	})
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestMapTransactErrorOther(t *testing.T) {
	cases := map[string]error{
		"throttled cancellation": &types.TransactionCanceledException{
			Message: aws.String("Transaction cancelled"),
			CancellationReasons: []types.CancellationReason{
				{Code: aws.String("ThrottlingError")},
				{Code: aws.String("None")},
			},
		},
		"missing table": &types.ResourceNotFoundException{
			Message: aws.String("Requested resource not found"),
		},
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			err := mapTransactError(cause)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, ErrPreconditionFailed)
		})
	}
}
