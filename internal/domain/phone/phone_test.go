package phone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.True(t, Validate("+79161234567"))
	require.True(t, Validate("89161234567"))
	require.True(t, Validate("79161234567"))
	require.True(t, Validate("9161234567"))
	require.True(t, Validate("8 (916) 123-45-67"))

	require.False(t, Validate("123"))
	require.False(t, Validate(""))
	require.False(t, Validate("abc"))
	require.False(t, Validate("19161234567")) // 11 цифр, но не 7/8
	require.False(t, Validate("791612345678"))
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "9161234567", Normalize("+79161234567"))
	require.Equal(t, "9161234567", Normalize("89161234567"))
	require.Equal(t, "9161234567", Normalize("9161234567"))
	require.Equal(t, "9161234567", Normalize("8 (916) 123-45-67"))
	require.Equal(t, "", Normalize(""))
	require.Equal(t, "", Normalize("нет цифр"))
}

func TestNormalize_FixedPoint(t *testing.T) {
	inputs := []string{"+79161234567", "89161234567", "123", "", "8-916-123"}
	for _, in := range inputs {
		once := Normalize(in)
		require.LessOrEqual(t, len(once), 10)
		require.Equal(t, once, Normalize(once))
	}
}
