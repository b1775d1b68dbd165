package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsNetworkFailure(t *testing.T) {
	raw := errors.New("connection refused")
	err := AsNetworkFailure(raw)
	require.ErrorIs(t, err, ErrNetworkFailure)
	require.Equal(t, http.StatusBadGateway, HTTPStatus(err))

	classified := fmt.Errorf("%w: code", ErrInvalidCode)
	require.Equal(t, classified, AsNetworkFailure(classified))
	require.NoError(t, AsNetworkFailure(nil))
}

func TestWorkflowStateMessage(t *testing.T) {
	err := fmt.Errorf("%w: workflow is abandoned", ErrWorkflowState)
	require.Equal(t, http.StatusConflict, HTTPStatus(err))
	require.Equal(t, "workflow_inactive", ErrorCode(err))
	require.NotEqual(t, UserMessage(ErrConflict), UserMessage(err))
}
