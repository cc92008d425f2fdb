package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ptr[T any](v T) *T {
	return &v
}

func TestNewConstraint(t *testing.T) {
	c, err := NewConstraint(ptr(int64(2022111500)), nil)
	require.NoError(t, err)
	require.True(t, c.IsBuild())
	require.Equal(t, int64(2022111500), c.Build())
	require.Equal(t, "version 2022111500", c.String())

	c, err = NewConstraint(nil, ptr("4.1"))
	require.NoError(t, err)
	require.True(t, c.IsRelease())
	require.Equal(t, "4.1", c.Release())
	require.Equal(t, `release "4.1"`, c.String())

	_, err = NewConstraint(nil, nil)
	require.ErrorIs(t, err, ErrInvalidConstraint)
	require.ErrorContains(t, err, "either moodle_version or moodle_release must be provided")

	_, err = NewConstraint(ptr(int64(0)), nil)
	require.ErrorIs(t, err, ErrInvalidConstraint)

	_, err = NewConstraint(nil, ptr(""))
	require.ErrorIs(t, err, ErrInvalidConstraint)
}

func TestNewConstraintExclusive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		build := rapid.Int64().Draw(t, "build")
		label := rapid.String().Draw(t, "release")
		_, err := NewConstraint(&build, &label)
		if err == nil {
			t.Fatal("expected an error when both forms are given")
		}
		require.ErrorIs(t, err, ErrInvalidConstraint)
	})
}

func TestParseIdentifier(t *testing.T) {
	testCases := []struct {
		input    string
		expected Constraint
	}{
		{input: "2022111500", expected: ByBuild(2022111500)},
		{input: "4.1", expected: ByRelease("4.1")},
		{input: "3.11", expected: ByRelease("3.11")},
	}
	for _, testCase := range testCases {
		c, err := ParseIdentifier(testCase.input)
		require.NoError(t, err)
		require.Equal(t, testCase.expected, c)
	}

	for _, input := range []string{"", "4", "4.1.2", "v4.1", "202211150", "20221115000", "latest"} {
		_, err := ParseIdentifier(input)
		require.ErrorIs(t, err, ErrInvalidConstraint, input)
	}
}
