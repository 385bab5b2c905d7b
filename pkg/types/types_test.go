package types_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tacedge/tacgate/pkg/types"
)

func TestPrecedence_MaxLatency(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, types.PrecedenceFlash.MaxLatency())
	assert.Equal(t, 500*time.Millisecond, types.PrecedenceImmediate.MaxLatency())
	assert.Equal(t, 2*time.Second, types.PrecedencePriority.MaxLatency())
	assert.Equal(t, 10*time.Second, types.PrecedenceRoutine.MaxLatency())
}

func TestPrecedence_PriorityOrderIsStrict(t *testing.T) {
	for i := 1; i < len(types.PrecedenceOrder); i++ {
		higher := types.PrecedenceOrder[i-1]
		lower := types.PrecedenceOrder[i]
		assert.Less(t, higher.PriorityValue(), lower.PriorityValue())
	}
}

func TestPrecedence_Valid(t *testing.T) {
	assert.True(t, types.PrecedenceFlash.Valid())
	assert.False(t, types.Precedence("URGENT").Valid())
	assert.False(t, types.Precedence("").Valid())
}

func TestClassification_TotalOrder(t *testing.T) {
	order := []types.Classification{
		types.ClassificationUnclassified,
		types.ClassificationConfidential,
		types.ClassificationSecret,
		types.ClassificationTopSecret,
	}
	for i := 1; i < len(order); i++ {
		assert.True(t, order[i].Exceeds(order[i-1]))
		assert.False(t, order[i-1].Exceeds(order[i]))
	}
	assert.False(t, types.ClassificationSecret.Exceeds(types.ClassificationSecret))
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, types.StatusPending.CanTransition(types.StatusTransmitted))
	assert.True(t, types.StatusPending.CanTransition(types.StatusStored))
	assert.True(t, types.StatusPending.CanTransition(types.StatusQueued))
	assert.True(t, types.StatusPending.CanTransition(types.StatusFailed))
	assert.True(t, types.StatusQueued.CanTransition(types.StatusStored))
	assert.True(t, types.StatusStored.CanTransition(types.StatusTransmitted))
	assert.True(t, types.StatusStored.CanTransition(types.StatusExpired))

	// No backward motion, no exits from terminal states.
	assert.False(t, types.StatusTransmitted.CanTransition(types.StatusPending))
	assert.False(t, types.StatusStored.CanTransition(types.StatusPending))
	assert.False(t, types.StatusExpired.CanTransition(types.StatusStored))
	assert.False(t, types.StatusFailed.CanTransition(types.StatusQueued))
	assert.False(t, types.StatusPending.CanTransition(types.StatusPending))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, types.CodeUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, types.CodeInvalidToken.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, types.CodeForbidden.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, types.CodeValidation.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, types.CodeNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, types.CodeAlreadyQueued.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, types.CodeAuthFailed.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, types.CodeInternal.HTTPStatus())
}

func TestAsError_WrapsUnknown(t *testing.T) {
	e := types.AsError(assert.AnError)
	assert.Equal(t, types.CodeInternal, e.Code)
	assert.NotContains(t, e.Message, assert.AnError.Error())

	orig := types.E(types.CodeNotFound, "message %s not found", "msg-1")
	assert.Same(t, orig, types.AsError(orig))
}
