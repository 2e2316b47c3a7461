package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Requests":            "requests",
		"zope.interface":      "zope-interface",
		"typing_extensions":   "typing-extensions",
		"Foo__Bar--Baz..Qux":  "foo-bar-baz-qux",
		"  scikit-learn  ":    "scikit-learn",
		"ruamel.yaml.clib":    "ruamel-yaml-clib",
		"already-normal-name": "already-normal-name",
	}
	for in, want := range cases {
		got := Normalize(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, Normalize(got), "normalization must be idempotent for %q", in)
	}
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("requests"))
	assert.True(t, IsValidName("a"))
	assert.True(t, IsValidName("zope.interface"))
	assert.False(t, IsValidName("-leading"))
	assert.False(t, IsValidName("trailing_"))
	assert.False(t, IsValidName("has space"))
	assert.False(t, IsValidName(""))
}

func TestNormalizeGroups(t *testing.T) {
	assert.Equal(t, []string{"dev", "test-all"}, NormalizeGroups([]string{"Dev", "", "test_all", "dev"}))
}

func TestParseRequirement(t *testing.T) {
	cases := []struct {
		raw  string
		want Requirement
	}{
		{"requests", Requirement{Name: "requests"}},
		{"requests>=2.31", Requirement{Name: "requests", Specifier: ">=2.31"}},
		{"Django >= 4.2, < 5", Requirement{Name: "Django", Specifier: ">= 4.2, < 5"}},
		{"uvicorn[standard]>=0.20", Requirement{Name: "uvicorn", Extras: []string{"standard"}, Specifier: ">=0.20"}},
		{"black[d, jupyter]", Requirement{Name: "black", Extras: []string{"d", "jupyter"}}},
		{`tomli>=1.1; python_version < "3.11"`, Requirement{Name: "tomli", Specifier: ">=1.1", Marker: `python_version < "3.11"`}},
		{"name (>=1.0)", Requirement{Name: "name", Specifier: ">=1.0"}},
		{"pkg @ https://example.com/pkg.whl", Requirement{Name: "pkg", URL: "https://example.com/pkg.whl"}},
		{`pkg @ git+https://example.com/pkg.git ; sys_platform == "linux"`, Requirement{
			Name: "pkg", URL: "git+https://example.com/pkg.git", Marker: `sys_platform == "linux"`,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseRequirement(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRequirementErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "-e .", "requests[security", "requests 2.0", "pkg @ "} {
		_, err := ParseRequirement(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("PyProject")
	require.NoError(t, err)
	assert.Equal(t, KindPyProject, k)

	_, err = ParseKind("gemfile")
	assert.Error(t, err)
	assert.Len(t, Kinds(), 5)
}
