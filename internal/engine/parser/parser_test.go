package parser

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, p *Parser, path, code string) *FileImports {
	t.Helper()
	file, err := p.ParseFile(path, []byte(code))
	require.NoError(t, err)
	return file
}

func contextsByModule(file *FileImports) map[string]Context {
	out := make(map[string]Context)
	for rec := range file.Records() {
		out[rec.Module] = rec.Context
	}
	return out
}

func TestPythonExtraction(t *testing.T) {
	p := New("")
	code := `
import os, sys
import numpy as np
import xml.etree.ElementTree
from auth.utils import login as auth_login, logout
from pkg import *

def load():
    import yaml
    return yaml
`
	file := parse(t, p, "app.py", code)
	records := slices.Collect(file.Records())
	require.Len(t, records, 7)

	assert.Equal(t, "os", records[0].Root)
	assert.Equal(t, "sys", records[1].Root)
	assert.Equal(t, "numpy", records[2].Module)
	assert.Equal(t, "np", records[2].Alias)
	assert.Equal(t, "xml", records[3].Root)
	assert.Equal(t, "xml.etree.ElementTree", records[3].Module)

	assert.Equal(t, "auth", records[4].Root)
	assert.Equal(t, "auth.utils", records[4].Module)
	assert.True(t, records[4].From)
	assert.Equal(t, []string{"login", "logout"}, records[4].Names)
	assert.Equal(t, []string{"*"}, records[5].Names)

	assert.Equal(t, "yaml", records[6].Root)
	assert.Equal(t, ContextUnconditional, records[6].Context)
	assert.Equal(t, 9, records[6].Location.Line)
	assert.Equal(t, "app.py", records[6].Location.File)
}

func TestRelativeAndFutureImportsAreSkipped(t *testing.T) {
	p := New("")
	code := `
from __future__ import annotations
from . import sibling
from ..pkg import helper
import requests
`
	file := parse(t, p, "pkg/mod.py", code)
	assert.Equal(t, 1, file.Len())
	assert.Equal(t, 2, file.RelativeCount)
}

func TestTryExceptContexts(t *testing.T) {
	cases := []struct {
		name   string
		code   string
		module string
		want   Context
	}{
		{
			name:   "ImportError",
			code:   "try:\n    import pandas\nexcept ImportError:\n    pandas = None\n",
			module: "pandas",
			want:   ContextTryExcept,
		},
		{
			name:   "ModuleNotFoundErrorWithAlias",
			code:   "try:\n    import polars\nexcept ModuleNotFoundError as exc:\n    raise SystemExit(exc)\n",
			module: "polars",
			want:   ContextTryExcept,
		},
		{
			name:   "Tuple",
			code:   "try:\n    import ujson\nexcept (ValueError, ImportError):\n    pass\n",
			module: "ujson",
			want:   ContextTryExcept,
		},
		{
			name:   "BareExcept",
			code:   "try:\n    import simplejson\nexcept:\n    pass\n",
			module: "simplejson",
			want:   ContextTryExcept,
		},
		{
			name:   "BroadException",
			code:   "try:\n    import orjson\nexcept Exception:\n    pass\n",
			module: "orjson",
			want:   ContextTryExcept,
		},
		{
			name:   "AnyHandlerGuards",
			code:   "try:\n    import attrs\nexcept ValueError:\n    pass\n",
			module: "attrs",
			want:   ContextTryExcept,
		},
		{
			name:   "ExceptionGroup",
			code:   "try:\n    import trio\nexcept* OSError:\n    pass\n",
			module: "trio",
			want:   ContextTryExcept,
		},
		{
			name:   "HandlerBodyKeepsOuterContext",
			code:   "try:\n    import ujson as json\nexcept ImportError:\n    import rapidjson\n",
			module: "rapidjson",
			want:   ContextUnconditional,
		},
		{
			name:   "FinallyOnlyDoesNotGuard",
			code:   "try:\n    import lxml\nfinally:\n    pass\n",
			module: "lxml",
			want:   ContextUnconditional,
		},
		{
			name:   "FinallyBranchRunsUnconditionally",
			code:   "try:\n    import a\nexcept ImportError:\n    pass\nfinally:\n    import c\n",
			module: "c",
			want:   ContextUnconditional,
		},
		{
			name:   "ElseBranchRunsUnconditionally",
			code:   "try:\n    import a\nexcept ImportError:\n    pass\nelse:\n    import b\n",
			module: "b",
			want:   ContextUnconditional,
		},
	}

	p := New("")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file := parse(t, p, "mod.py", tc.code)
			got, ok := contextsByModule(file)[tc.module]
			require.True(t, ok, "expected a record for %s", tc.module)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTypeCheckingContexts(t *testing.T) {
	p := New("")
	code := `
import typing
from typing import TYPE_CHECKING

if TYPE_CHECKING:
    import numpy
else:
    import pandas

if typing.TYPE_CHECKING:
    from scipy import sparse
    try:
        import torch
    except ImportError:
        pass
`
	file := parse(t, p, "mod.py", code)
	got := contextsByModule(file)
	assert.Equal(t, ContextUnconditional, got["typing"])
	assert.Equal(t, ContextTypeChecking, got["numpy"])
	assert.Equal(t, ContextUnconditional, got["pandas"])
	assert.Equal(t, ContextTypeChecking, got["scipy"])
	// The innermost guard wins.
	assert.Equal(t, ContextTryExcept, got["torch"])
}

func TestDynamicImports(t *testing.T) {
	p := New("")
	code := `
import importlib
from importlib import import_module

yaml = importlib.import_module("yaml")
toml = import_module('tomli')
sub = import_module(".plugins", __package__)
mod = importlib.import_module(name)
other = __import__(f"backend_{kind}")
`
	file := parse(t, p, "loader.py", code)
	got := contextsByModule(file)
	assert.Contains(t, got, "yaml")
	assert.Contains(t, got, "tomli")
	assert.Equal(t, 1, file.RelativeCount)

	dynamic := 0
	for rec := range file.Records() {
		if rec.Dynamic {
			dynamic++
		}
	}
	assert.Equal(t, 2, dynamic)

	require.Len(t, file.Unresolvable, 2)
	assert.Equal(t, "importlib.import_module(name)", file.Unresolvable[0].Expression)
	assert.Equal(t, 8, file.Unresolvable[0].Location.Line)
}

func TestReExportTagging(t *testing.T) {
	p := New("My-Pkg")
	code := "from my_pkg.core import Client\nimport requests\n"

	file := parse(t, p, "src/my_pkg/__init__.py", code)
	got := contextsByModule(file)
	assert.Equal(t, ContextReExport, got["my_pkg.core"])
	assert.Equal(t, ContextUnconditional, got["requests"])

	// The same import outside the package's __init__ is an ordinary import.
	file = parse(t, p, "src/my_pkg/client.py", code)
	assert.Equal(t, ContextUnconditional, contextsByModule(file)["my_pkg.core"])
}

func TestParseFileErrors(t *testing.T) {
	p := New("")

	_, err := p.ParseFile("broken.py", []byte("import os\ndef broken(:\n    pass\n"))
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "broken.py", perr.Path)
	assert.Positive(t, perr.Line)

	file, err := p.ParseFile("empty.py", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, file.Len())
}

func TestRecordsIsRestartable(t *testing.T) {
	p := New("")
	file := parse(t, p, "mod.py", "import a\nimport b\n")

	first := slices.Collect(file.Records())
	second := slices.Collect(file.Records())
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestImportName(t *testing.T) {
	assert.Equal(t, "my_pkg", ImportName("My-Pkg"))
	assert.Equal(t, "zope_interface", ImportName("zope.interface"))
	assert.Equal(t, "", ImportName(""))
}

func TestContextString(t *testing.T) {
	assert.Equal(t, "inside-try-except", ContextTryExcept.String())
	assert.Equal(t, "re-export", ContextReExport.String())
	assert.True(t, ContextTypeChecking.Guarded())
	assert.False(t, ContextReExport.Guarded())
}
