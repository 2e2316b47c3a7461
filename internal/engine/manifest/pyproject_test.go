package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePyProject(t *testing.T, content string) *DependencySet {
	t.Helper()
	set, err := (&PyProjectNormalizer{}).Parse("pyproject.toml", []byte(content))
	require.NoError(t, err)
	return set
}

func TestPyProjectPEP621(t *testing.T) {
	set := parsePyProject(t, `
[project]
name = "My_App"
dependencies = [
    "requests>=2",
    "PyYAML",
]

[project.optional-dependencies]
viz = ["matplotlib"]
all = ["matplotlib", "plotly"]
empty = []
`)
	assert.Equal(t, "My_App", set.ProjectName)
	assert.Equal(t, []string{"all", "empty", "viz"}, set.Groups())

	pyyaml, ok := set.Lookup("pyyaml")
	require.True(t, ok)
	assert.True(t, pyyaml.Declarations[0].Base())
	assert.Equal(t, 6, pyyaml.Declarations[0].Origin.Line)

	mpl, ok := set.Lookup("matplotlib")
	require.True(t, ok)
	assert.Equal(t, []string{"all", "viz"}, mpl.Groups())

	base := set.ActiveNames(nil)
	assert.True(t, base["requests"])
	assert.False(t, base["plotly"])
	assert.True(t, set.ActiveNames(map[string]bool{"all": true})["plotly"])
}

func TestPyProjectDependencyGroups(t *testing.T) {
	set := parsePyProject(t, `
[dependency-groups]
test = ["pytest>=8", "coverage"]
lint = ["ruff"]
dev = [{include-group = "test"}, {include-group = "lint"}, "ipython"]
`)
	dev := map[string]bool{"dev": true}
	active := set.ActiveNames(dev)
	for _, name := range []string{"pytest", "coverage", "ruff", "ipython"} {
		assert.True(t, active[name], name)
	}
	assert.False(t, set.ActiveNames(nil)["pytest"])
}

func TestPyProjectDependencyGroupCycle(t *testing.T) {
	_, err := (&PyProjectNormalizer{}).Parse("pyproject.toml", []byte(`
[dependency-groups]
a = [{include-group = "b"}]
b = [{include-group = "a"}]
`))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "includes itself")
}

func TestPyProjectPoetry(t *testing.T) {
	set := parsePyProject(t, `
[tool.poetry]
name = "poetry-app"

[tool.poetry.dependencies]
python = "^3.10"
httpx = "^0.27"
psycopg = { version = "^3.1", optional = true, extras = ["binary"] }
orphan = { version = "*", optional = true }
numpy = [
    { version = "<2", python = "<3.9" },
    { version = ">=2", python = ">=3.9" },
]

[tool.poetry.extras]
postgres = ["psycopg"]

[tool.poetry.group.test.dependencies]
pytest = "^8"

[tool.poetry.dev-dependencies]
black = "*"
`)
	assert.Equal(t, "poetry-app", set.ProjectName)

	_, hasPython := set.Lookup("python")
	assert.False(t, hasPython)

	psycopg, ok := set.Lookup("psycopg")
	require.True(t, ok)
	assert.Equal(t, []string{"postgres"}, psycopg.Groups())
	assert.Equal(t, []string{"binary"}, psycopg.Declarations[0].PackageExtras)

	numpy, _ := set.Lookup("numpy")
	assert.Equal(t, "<2 || >=2", numpy.Declarations[0].Specifier)

	black, _ := set.Lookup("black")
	assert.Equal(t, []string{"dev"}, black.Groups())
	assert.Empty(t, black.Declarations[0].Specifier)

	pytest, _ := set.Lookup("pytest")
	assert.Equal(t, []string{"test"}, pytest.Groups())

	_, hasOrphan := set.Lookup("orphan")
	assert.False(t, hasOrphan)
	require.Len(t, set.Notes, 1)
	assert.Equal(t, NoteUnreachable, set.Notes[0].Kind)
}

func TestPyProjectDynamic(t *testing.T) {
	_, err := (&PyProjectNormalizer{}).Parse("pyproject.toml", []byte(`
[project]
name = "dyn"
dynamic = ["dependencies", "version"]
`))
	var derr *DynamicError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "project.dependencies", derr.Field)

	set := parsePyProject(t, `
[project]
name = "dyn"
dependencies = ["attrs"]
dynamic = ["optional-dependencies"]
`)
	require.Len(t, set.Notes, 1)
	assert.Equal(t, NoteDynamic, set.Notes[0].Kind)
}

func TestPyProjectErrors(t *testing.T) {
	cases := map[string]string{
		"NoTables":       "[tool.black]\nline-length = 100\n",
		"BadToml":        "[project\n",
		"BadRequirement": "[project]\ndependencies = [\"!!\"]\n",
		"NotAnArray":     "[project]\ndependencies = 3\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&PyProjectNormalizer{}).Parse("pyproject.toml", []byte(content))
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}
