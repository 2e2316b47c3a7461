package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupPyLiterals(t *testing.T) {
	content := `from setuptools import setup

BASE = ["requests>=2", "click"]
EXTRA = ("rich",)

setup(
    name="legacy-tool",
    version="1.0",
    install_requires=BASE + list_placeholder if False else BASE,
)
`
	// Conditional expressions are not literals.
	_, err := NewSetupNormalizer().Parse("setup.py", []byte(content))
	var derr *DynamicError
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Equal(t, "install_requires", derr.Field)
	assert.Equal(t, 9, derr.Line)

	content = `import setuptools

BASE = ["requests>=2", "click"]
EXTRA = ("rich",)

setuptools.setup(
    name="legacy-tool",
    install_requires=BASE + ["attrs"] + EXTRA,
    extras_require={
        "yaml":                         ["PyYAML>=6"],
        "docs:python_version >= '3.9'": ["sphinx"],
    },
)
`
	set, err := NewSetupNormalizer().Parse("setup.py", []byte(content))
	require.NoError(t, err)
	assert.Equal(t, "legacy-tool", set.ProjectName)

	base := set.ActiveNames(nil)
	for _, name := range []string{"requests", "click", "attrs", "rich"} {
		assert.True(t, base[name], name)
	}
	assert.Equal(t, []string{"docs", "yaml"}, set.Groups())

	requests, _ := set.Lookup("requests")
	assert.Equal(t, 3, requests.Declarations[0].Origin.Line)

	sphinx, ok := set.Lookup("sphinx")
	require.True(t, ok)
	assert.Equal(t, []string{"docs"}, sphinx.Groups())
	assert.Equal(t, "python_version >= '3.9'", sphinx.Declarations[0].Marker)
}

func TestSetupPyDynamic(t *testing.T) {
	cases := []struct {
		name  string
		code  string
		field string
	}{
		{
			name:  "ReadFromFile",
			code:  "from setuptools import setup\nsetup(install_requires=open('requirements.txt').read().splitlines())\n",
			field: "install_requires",
		},
		{
			name:  "UnboundName",
			code:  "from setuptools import setup\nfrom deps import REQS\nsetup(install_requires=REQS)\n",
			field: "install_requires",
		},
		{
			name:  "NonLiteralElement",
			code:  "from setuptools import setup\nsetup(install_requires=['requests', VERSIONED])\n",
			field: "install_requires",
		},
		{
			name:  "KwargsOnly",
			code:  "from setuptools import setup\nsetup(**metadata)\n",
			field: "install_requires",
		},
		{
			name:  "ComputedExtras",
			code:  "from setuptools import setup\nsetup(install_requires=[], extras_require=build_extras())\n",
			field: "extras_require",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSetupNormalizer().Parse("setup.py", []byte(tc.code))
			var derr *DynamicError
			require.True(t, errors.As(err, &derr), "got %v", err)
			assert.Equal(t, tc.field, derr.Field)
			assert.Positive(t, derr.Line)
		})
	}
}

func TestSetupPyWithoutCall(t *testing.T) {
	_, err := NewSetupNormalizer().Parse("setup.py", []byte("print('hello')\n"))
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}

func TestSetupCfg(t *testing.T) {
	content := `[metadata]
name = cfg-tool

[options]
packages = find:
install_requires =
    requests>=2.0
    importlib-metadata; python_version < "3.8"

[options.extras_require]
yaml =
    pyyaml
docs = sphinx

[flake8]
max-line-length = 100
`
	set, err := NewSetupNormalizer().Parse("setup.cfg", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "cfg-tool", set.ProjectName)
	base := set.ActiveNames(nil)
	assert.True(t, base["requests"])
	assert.True(t, base["importlib-metadata"])
	assert.False(t, base["pyyaml"])

	requests, _ := set.Lookup("requests")
	assert.Equal(t, 7, requests.Declarations[0].Origin.Line)

	assert.True(t, set.ActiveNames(map[string]bool{"yaml": true})["pyyaml"])
	assert.True(t, set.ActiveNames(map[string]bool{"docs": true})["sphinx"])
}

func TestSetupCfgIndirectValues(t *testing.T) {
	content := "[options]\ninstall_requires = file: requirements.in\n"
	_, err := NewSetupNormalizer().Parse("setup.cfg", []byte(content))
	var derr *DynamicError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "options.install_requires", derr.Field)
	assert.Equal(t, 2, derr.Line)
}

func TestHasSetupCfgOptions(t *testing.T) {
	assert.True(t, hasSetupCfgOptions([]byte("[options]\ninstall_requires =\n    six\n")))
	assert.True(t, hasSetupCfgOptions([]byte("[options.extras_require]\ntest = pytest\n")))
	assert.False(t, hasSetupCfgOptions([]byte("[flake8]\nmax-line-length = 100\n")))
}
