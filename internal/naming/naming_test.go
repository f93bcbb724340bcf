package naming

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	v := Values{
		Project:       "Café Study",
		ProjectNumber: "42",
		Dataset:       "Biochemistry",
		Acronym:       "BIO",
		Configuration: "cfg 1",
		Release:       "REL-9",
		Time:          time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC),
	}

	tests := []struct {
		pattern Pattern
		want    string
	}{
		{"Proj_$n_$l", "Proj_42_REL-9"},
		{"$p_$d", "Cafe_Study_Biochemistry"},
		{"x_$a_$c_$t", "x_BIO_cfg_1_20240305T070809"},
		{"keep_$z_$a", "keep_$z_BIO"},
		{"trailing$", "trailing$"},
		{"dbo.$a", "dbo.BIO"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.pattern.Resolve(v), "pattern %q", tt.pattern)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, Pattern("Proj_$n_$d").Check())
	require.NoError(t, Pattern("$a").Check())
	require.NoError(t, Pattern("load_$t").Check())

	err := Pattern("Proj_$n_$l").Check()
	require.Error(t, err)
	require.Contains(t, err.Error(), "$d, $a, $t")

	require.Error(t, Pattern("  ").Check())
}

func TestTokens(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"$p", "$n", "$d"}, Pattern("$p_$n_$d_$p_$q").Tokens())
	require.Empty(t, Pattern("plain").Tokens())
}

func TestLegal(t *testing.T) {
	t.Parallel()

	require.NoError(t, Legal("Proj_42_REL-9", 63))
	require.NoError(t, Legal("dbo.Proj", 128))
	require.Error(t, Legal("", 63))
	require.Error(t, Legal("a..b", 63))
	require.Error(t, Legal(strings.Repeat("x", 64), 63))
	require.NoError(t, Legal(strings.Repeat("x", 64), 0))
	require.Error(t, Legal("bad\x00name", 63))
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Zurich_Munster", Sanitize(" Zürich Münster "))
	require.Equal(t, "a_b_c", Sanitize("a/b.c"))
}
