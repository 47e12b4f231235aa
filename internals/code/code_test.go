package code

import "testing"

import "github.com/stretchr/testify/require"

func TestGenerateIsValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := Generate()
		require.True(t, IsValid(c), "generated code %q should be valid", c)
	}
}

func TestGenerateShape(t *testing.T) {
	c := Generate()
	require.Len(t, c, 11)
	require.Equal(t, byte('-'), c[3])
	require.Equal(t, byte('-'), c[7])
}

func TestIsValidRejections(t *testing.T) {
	cases := []string{
		"",
		"abc-def-gh",   // too short
		"abc-def-ghij", // too long
		"abcXdefXghi",  // wrong separators
		"ABC-DEF-GHI",  // uppercase
		"123-456-789",  // digits
		"abc.def.ghi",
	}
	for _, c := range cases {
		require.False(t, IsValid(c), "expected %q to be invalid", c)
	}
}

func TestIsValidAccepts(t *testing.T) {
	require.True(t, IsValid("abc-def-ghi"))
}
