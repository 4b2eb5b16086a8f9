package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/upiswitch/types"
)

func failingTimes(n int) (func() (string, error), *int) {
	calls := 0
	return func() (string, error) {
		calls++
		if calls <= n {
			return "", errors.New("fake error")
		}
		return "ok", nil
	}, &calls
}

func TestRetrierRecovers(t *testing.T) {
	r := NewRetrier[string](NewExponentialBackoffStrategy(5, time.Millisecond, 0.1, 4*time.Millisecond), nil)
	action, calls := failingTimes(3)

	got, err := r.DoWithReturn(context.Background(), action)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 4, *calls)
}

func TestRetrierGivesUp(t *testing.T) {
	r := NewBoundedRetrier[string](2, nil)
	action, calls := failingTimes(10)

	_, err := r.DoWithReturn(context.Background(), action)
	require.Error(t, err)
	assert.Equal(t, 3, *calls)
}

func TestNopRetrierRunsOnce(t *testing.T) {
	r := NewBoundedRetrier[string](0, nil)
	action, calls := failingTimes(1)

	_, err := r.DoWithReturn(context.Background(), action)
	require.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestRetrierStopsOnContext(t *testing.T) {
	r := NewRetrier[string](NewExponentialBackoffStrategy(-1, time.Hour, 0, time.Hour), nil)
	action, calls := failingTimes(100)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.DoWithReturn(ctx, action)
	require.Error(t, err)
	assert.Equal(t, 1, *calls)
}

func TestNewMsgID(t *testing.T) {
	a := NewMsgID("NPCI")
	b := NewMsgID("NPCI")

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 4+32)
	assert.Equal(t, "RESPpay-1", ResponseMsgID("pay-1"))
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2026-01-02T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestParseErrorBody(t *testing.T) {
	body, err := ParseErrorBody([]byte(`{"error": "INSUFFICIENT_BALANCE"}`))
	require.NoError(t, err)
	assert.Equal(t, types.ErrInsufficientBalance, body.Error)

	_, err = ParseErrorBody([]byte(`{"message": "x"}`))
	assert.Error(t, err)

	_, err = ParseErrorBody([]byte(`<xml/>`))
	assert.Error(t, err)

	b := ErrorBodyFor(types.NewError(types.ErrDuplicateMessage, "seen"))
	assert.Equal(t, types.ErrDuplicateMessage, b.Error)
	assert.Equal(t, types.ErrInternal, ErrorBodyFor(errors.New("boom")).Error)
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("a@x"))
	assert.NoError(t, ValidateAddress("aman.k-9@okbank"))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress("no-handle"))
	assert.Error(t, ValidateAddress("a@"))
	assert.Equal(t, "okbank", AddressHandle("aman@okbank"))
}

func TestValidateAmount(t *testing.T) {
	m, err := ValidateAmount("500")
	require.NoError(t, err)
	assert.Equal(t, "500.00", m.String())

	for _, bad := range []string{"", "0", "-1", "1.234", "abc"} {
		_, err := ValidateAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestMaskName(t *testing.T) {
	assert.Equal(t, "A**n", MaskName("Aman"))
	assert.Equal(t, "A******k S****a", MaskName("Abhishek Sharma"))
	assert.Equal(t, "Al", MaskName("Al"))
	assert.NoError(t, ValidatePIN("1234"))
	assert.Error(t, ValidatePIN("12a4"))
}
