package unmock

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unmock/internal/bridge"
	"unmock/internal/classfile"
	"unmock/internal/diag"
	"unmock/internal/jar"
	"unmock/internal/rewrite"
)

func classBytes(t *testing.T, name string, access uint16, build func(c *classfile.Class)) []byte {
	t.Helper()
	c, err := classfile.New(name, "java/lang/Object", access)
	require.NoError(t, err)
	if build != nil {
		build(c)
	}
	data, err := c.Encode()
	require.NoError(t, err)
	return data
}

func method(t *testing.T, c *classfile.Class, access uint16, name, desc string, emit func(a *classfile.Assembler)) {
	t.Helper()
	var code *classfile.Code
	if emit != nil {
		a := classfile.NewAssembler(c.Pool)
		emit(a)
		require.NoError(t, a.Err())
		code = &classfile.Code{MaxStack: 2, MaxLocals: 2, Bytecode: a.Bytes()}
	}
	_, err := c.AddMethod(access, name, desc, code)
	require.NoError(t, err)
}

func ctor(t *testing.T, c *classfile.Class) {
	method(t, c, classfile.AccPrivate, classfile.InitName, "()V", func(a *classfile.Assembler) {
		a.Op(classfile.OpAload0)
		a.Invoke(classfile.OpInvokespecial, "java/lang/Object", classfile.InitName, "()V")
		a.Op(classfile.OpReturn)
	})
}

type entry struct {
	name string
	data []byte
}

func writeJar(t *testing.T, path string, entries []entry) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// sourceJar is the fixture used by most tests: two kept classes, one class
// no rule selects, a delegate class and a resource.
func sourceJar(t *testing.T, dir string, extra ...entry) string {
	t.Helper()
	kept := classBytes(t, "x/Kept", classfile.AccFinal|classfile.AccSuper, func(c *classfile.Class) {
		ctor(t, c)
		method(t, c, classfile.AccPrivate|classfile.AccStatic|classfile.AccNative, "nativeSize", "()I", nil)
		method(t, c, classfile.AccProtected, "size", "()I", func(a *classfile.Assembler) {
			a.Op(classfile.OpIconst0)
			a.Op(classfile.OpIreturn)
		})
	})
	inner := classBytes(t, "x/Kept$Inner", classfile.AccSuper, func(c *classfile.Class) { ctor(t, c) })
	dropped := classBytes(t, "x/Dropped", classfile.AccPublic|classfile.AccSuper, nil)
	deleg := classBytes(t, "y/Deleg", classfile.AccPublic|classfile.AccSuper, func(c *classfile.Class) {
		ctor(t, c)
		method(t, c, classfile.AccPublic, "name", "()Ljava/lang/String;", func(a *classfile.Assembler) {
			a.Op(classfile.OpAconstNull)
			a.Op(classfile.OpAreturn)
		})
	})
	entries := []entry{
		{"META-INF/MANIFEST.MF", []byte("Manifest-Version: 1.0\n")},
		{"x/Kept.class", kept},
		{"x/Kept$Inner.class", inner},
		{"x/Dropped.class", dropped},
		{"x/data.txt", []byte("payload")},
		{"y/Deleg.class", deleg},
	}
	path := filepath.Join(dir, "android-all.jar")
	writeJar(t, path, append(entries, extra...))
	return path
}

func baseConfig(dir, source string) Config {
	return Config{
		Source:   source,
		Out:      filepath.Join(dir, "out", "android-all-unmocked.jar"),
		Work:     filepath.Join(dir, "work"),
		Keep:     []string{"x.Kept"},
		Delegate: []string{"y.Deleg"},
	}
}

func openOutput(t *testing.T, path string) *jar.Archive {
	t.Helper()
	a, err := jar.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func parseOutput(t *testing.T, a *jar.Archive, dotted string) *classfile.Class {
	t.Helper()
	data, err := a.ReadClass(dotted)
	require.NoError(t, err)
	c, err := classfile.Parse(data)
	require.NoError(t, err)
	return c
}

func TestRun_SelectsAndRewrites(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir, sourceJar(t, dir))
	cfg.Report = filepath.Join(dir, "out", "report.json")
	cfg.Graph = filepath.Join(dir, "out", "rewrites.dot")

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, res.Report.UpToDate)
	assert.Equal(t, 4, res.Report.Classes)
	assert.Equal(t, 2, res.Report.Kept)
	assert.Equal(t, 1, res.Report.Delegated)
	assert.Equal(t, 1, res.Report.Excluded)
	assert.Zero(t, res.Diags.Len())

	out := openOutput(t, cfg.Out)
	assert.ElementsMatch(t, []string{"de.mobilej.ABridge", "x.Kept", "x.Kept$Inner", "y.Deleg"}, out.Classes())
	assert.False(t, out.HasClass("x.Dropped"))
	assert.Empty(t, out.Resources(), "no keep rule covers x/data.txt")

	kept := parseOutput(t, out, "x.Kept")
	assert.NotZero(t, kept.Access&classfile.AccPublic)
	assert.Zero(t, kept.Access&classfile.AccFinal)

	native := kept.Method("nativeSize", "()I")
	require.NotNil(t, native)
	assert.Equal(t, classfile.AccPublic|classfile.AccStatic, native.Access)
	code, err := kept.Code(native)
	require.NoError(t, err)
	require.NotNil(t, code)
	insts, err := classfile.Decode(code.Bytecode, classfile.Options{})
	require.NoError(t, err)
	call := insts[len(insts)-2]
	owner, name, _, err := kept.Pool.MemberRef(call.Operand16(code.Bytecode))
	require.NoError(t, err)
	assert.Equal(t, bridge.ClassName, owner)
	assert.Equal(t, "callInt", name)

	size := kept.Method("size", "()I")
	require.NotNil(t, size)
	code, err = kept.Code(size)
	require.NoError(t, err)
	assert.Equal(t, []byte{classfile.OpIconst0, classfile.OpIreturn}, code.Bytecode, "kept bodies stay")

	deleg := parseOutput(t, out, "y.Deleg")
	m := deleg.Method("name", "()Ljava/lang/String;")
	require.NotNil(t, m)
	code, err = deleg.Code(m)
	require.NoError(t, err)
	assert.Equal(t, classfile.OpLdcW, code.Bytecode[0])
	assert.Equal(t, classfile.OpAreturn, code.Bytecode[len(code.Bytecode)-1])

	stub := parseOutput(t, out, "de.mobilej.ABridge")
	assert.NotNil(t, stub.Method("callLong", bridge.Dispatch(bridge.Long).Descriptor))

	data, err := os.ReadFile(cfg.Report)
	require.NoError(t, err)
	var report struct {
		Classes int `json:"classes"`
		Results []struct {
			Class string `json:"class"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 4, report.Classes)
	assert.Len(t, report.Results, 3)

	dot, err := os.ReadFile(cfg.Graph)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "nativeSize")
}

func TestRun_RenameWithoutKeepRules(t *testing.T) {
	dir := t.TempDir()
	old := classBytes(t, "a/Old", classfile.AccPublic|classfile.AccSuper, func(c *classfile.Class) {
		ctor(t, c)
		method(t, c, classfile.AccPublic|classfile.AccStatic, "self", "()La/Old;", func(a *classfile.Assembler) {
			a.Op(classfile.OpAconstNull)
			a.Op(classfile.OpAreturn)
		})
	})
	source := filepath.Join(dir, "src.jar")
	writeJar(t, source, []entry{{"a/Old.class", old}})

	cfg := Config{
		Source:  source,
		Out:     filepath.Join(dir, "out.jar"),
		Work:    filepath.Join(dir, "work"),
		Renames: []string{"a.Old=a.New"},
	}
	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Kept)

	out := openOutput(t, cfg.Out)
	assert.ElementsMatch(t, []string{"de.mobilej.ABridge", "a.New"}, out.Classes())
	c := parseOutput(t, out, "a.New")
	assert.Equal(t, "a/New", c.Name())
	assert.NotNil(t, c.Method("self", "()La/New;"))
	assert.Nil(t, c.Method("self", "()La/Old;"))
}

func TestRun_ResourcesFollowKeepRules(t *testing.T) {
	tests := []struct {
		keep []string
		want bool
	}{
		{[]string{"x."}, true},
		{[]string{"x"}, true},
		{[]string{"x.Kept"}, false},
		{[]string{"-x.Kept", "x."}, true},
	}
	for _, tt := range tests {
		t.Run(tt.keep[len(tt.keep)-1], func(t *testing.T) {
			dir := t.TempDir()
			cfg := baseConfig(dir, sourceJar(t, dir))
			cfg.Keep = tt.keep

			res, err := Run(context.Background(), cfg, nil)
			require.NoError(t, err)
			out := openOutput(t, cfg.Out)
			if !tt.want {
				assert.NotContains(t, out.Resources(), "x/data.txt")
				assert.Zero(t, res.Report.Resources)
				return
			}
			require.Contains(t, out.Resources(), "x/data.txt")
			data, err := out.ReadFile("x/data.txt")
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		})
	}
}

func TestRun_UpToDate(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir, sourceJar(t, dir))

	_, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.Out)
	require.NoError(t, err)

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, res.Report.UpToDate)

	cfg.Force = true
	res, err = Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, res.Report.UpToDate)
	second, err := os.ReadFile(cfg.Out)
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated runs produce identical archives")

	cfg.Force = false
	cfg.Keep = append(cfg.Keep, "x.Dropped")
	res, err = Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.False(t, res.Report.UpToDate, "changed rules invalidate the stamp")
	assert.True(t, openOutput(t, cfg.Out).HasClass("x.Dropped"))
}

func TestRun_UnparseableClass(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir, sourceJar(t, dir, entry{"x/Kept$Broken.class", []byte("garbage")}))

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"x.Kept$Broken"}, res.Report.Suspect)
	assert.Equal(t, 1, res.Diags.Count(diag.KindClassRead))

	out := openOutput(t, cfg.Out)
	data, err := out.ReadClass("x.Kept$Broken")
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data), "copied unchanged")

	cfg.Mode = diag.ModeStrict
	cfg.Force = true
	_, err = Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, classfile.ErrNotClass))
}

func TestRun_SuperWithoutDefaultConstructor(t *testing.T) {
	dir := t.TempDir()
	base := classBytes(t, "y/Base", classfile.AccPublic|classfile.AccSuper, func(c *classfile.Class) {
		method(t, c, classfile.AccPublic, classfile.InitName, "(I)V", func(a *classfile.Assembler) {
			a.Op(classfile.OpAload0)
			a.Invoke(classfile.OpInvokespecial, "java/lang/Object", classfile.InitName, "()V")
			a.Op(classfile.OpReturn)
		})
	})
	c, err := classfile.New("y/Deleg", "y/Base", classfile.AccFinal|classfile.AccSuper)
	require.NoError(t, err)
	method(t, c, classfile.AccPublic, "name", "()Ljava/lang/String;", func(a *classfile.Assembler) {
		a.Op(classfile.OpAconstNull)
		a.Op(classfile.OpAreturn)
	})
	method(t, c, classfile.AccPublic, classfile.InitName, "(I)V", func(a *classfile.Assembler) {
		a.Op(classfile.OpAload0)
		a.Local(classfile.OpIload, 1)
		a.Invoke(classfile.OpInvokespecial, "y/Base", classfile.InitName, "(I)V")
		a.Op(classfile.OpReturn)
	})
	deleg, err := c.Encode()
	require.NoError(t, err)

	source := filepath.Join(dir, "src.jar")
	writeJar(t, source, []entry{{"y/Base.class", base}, {"y/Deleg.class", deleg}})
	cfg := Config{
		Source:   source,
		Out:      filepath.Join(dir, "out.jar"),
		Work:     filepath.Join(dir, "work"),
		Delegate: []string{"y.Deleg"},
	}

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"y.Deleg"}, res.Report.Suspect)
	assert.Equal(t, 1, res.Diags.Count(diag.KindClassRewrite))

	out := openOutput(t, cfg.Out)
	require.True(t, out.HasClass("y.Deleg"), "a partially rewritten class is still written")
	got := parseOutput(t, out, "y.Deleg")
	assert.NotZero(t, got.Access&classfile.AccPublic)
	assert.Zero(t, got.Access&classfile.AccFinal)

	m := got.Method("name", "()Ljava/lang/String;")
	require.NotNil(t, m)
	code, err := got.Code(m)
	require.NoError(t, err)
	assert.Equal(t, classfile.OpLdcW, code.Bytecode[0], "methods before the constructor are delegated")

	cfg.Mode = diag.ModeStrict
	cfg.Force = true
	_, err = Run(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, rewrite.ErrClassRewrite))
}

func TestRun_UnsupportedCallSite(t *testing.T) {
	dir := t.TempDir()
	odd := classBytes(t, "x/Kept$Odd", classfile.AccSuper, func(c *classfile.Class) {
		method(t, c, classfile.AccPublic, "runtime", "()Ljava/lang/Object;", func(a *classfile.Assembler) {
			a.Op(classfile.OpAconstNull)
			a.Invoke(classfile.OpInvokevirtual, "dalvik/system/VMRuntime", "getRuntime", "()Ldalvik/system/VMRuntime;")
			a.Op(classfile.OpAreturn)
		})
	})
	cfg := baseConfig(dir, sourceJar(t, dir, entry{"x/Kept$Odd.class", odd}))

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diags.Count(diag.KindCallSite))
	assert.Zero(t, res.Diags.Count(diag.KindClassRewrite))
	assert.Equal(t, []string{"x.Kept$Odd"}, res.Report.Suspect)
	assert.True(t, openOutput(t, cfg.Out).HasClass("x.Kept$Odd"))

	cfg.Mode = diag.ModeStrict
	cfg.Force = true
	_, err = Run(context.Background(), cfg, nil)
	assert.True(t, errors.Is(err, rewrite.ErrCallSite))
}

// overflowing returns a class whose next Encode fails: the pool is full and
// the method added last needs new Utf8 entries.
func overflowing(t *testing.T, name string) *classfile.Class {
	t.Helper()
	c, err := classfile.New(name, "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	require.NoError(t, err)
	for i := 0; ; i++ {
		if _, err := c.Pool.AddUTF8(fmt.Sprintf("s%d", i)); err != nil {
			require.True(t, errors.Is(err, classfile.ErrPoolOverflow))
			break
		}
	}
	c.Methods = append(c.Methods, &classfile.Member{Access: classfile.AccPublic, Name: "late", Descriptor: "()V"})
	return c
}

func TestSerializeAll_EncodeFailureIsAClassDiagnostic(t *testing.T) {
	dir := t.TempDir()
	ok, err := classfile.New("x/Fine", "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	require.NoError(t, err)
	work := []*pending{
		{name: "x.Full", cls: overflowing(t, "x/Full")},
		{name: "x.Fine", cls: ok},
	}

	var diags diag.Diags
	n, err := serializeAll(dir, work, diag.ModeBestEffort, &diags, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"x.Full"}, diags.Subjects(diag.KindClassRewrite))
	assert.FileExists(t, filepath.Join(dir, "x", "Fine.class"))
	assert.NoFileExists(t, filepath.Join(dir, "x", "Full.class"))

	_, err = serializeAll(t.TempDir(), []*pending{{name: "x.Full", cls: overflowing(t, "x/Full")}},
		diag.ModeStrict, &diag.Diags{}, slog.New(slog.DiscardHandler))
	assert.True(t, errors.Is(err, classfile.ErrPoolOverflow))
}

func TestSerializeAll_WorkTreeFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	c, err := classfile.New("x/Fine", "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	require.NoError(t, err)
	work := []*pending{
		{name: "x.Fine", cls: c},
		{name: "x.Raw", raw: []byte("raw")},
	}

	var diags diag.Diags
	n, err := serializeAll(filepath.Join(blocker, "work"), work, diag.ModeBestEffort, &diags, slog.New(slog.DiscardHandler))
	assert.True(t, errors.Is(err, ErrWorkTree))
	assert.Zero(t, n)
	assert.Zero(t, diags.Len(), "I/O failures are not class diagnostics")
}

func TestNewArchiveClasses_BadSize(t *testing.T) {
	_, err := newArchiveClasses(nil, 0)
	assert.Error(t, err)
}

func TestRun_BadRenameIsReported(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir, sourceJar(t, dir))
	cfg.Renames = []string{"a.Old"}

	res, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diags.Count(diag.KindRuleParse))
}

func TestRun_NoSource(t *testing.T) {
	dir := t.TempDir()
	_, err := Run(context.Background(), Config{Out: filepath.Join(dir, "o.jar"), Work: filepath.Join(dir, "w")}, nil)
	assert.True(t, errors.Is(err, ErrNoSource))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig(dir, sourceJar(t, dir))
	cfg.Keep = []string{"-x.Kept$Inner", "x."}

	got, err := Scan(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []Classification{
		{"x.Dropped", "keep"},
		{"x.Kept", "keep"},
		{"x.Kept$Inner", "excluded"},
		{"y.Deleg", "delegate"},
	}, got)
	_, err = os.Stat(cfg.Work)
	assert.True(t, os.IsNotExist(err), "scan writes nothing")
}

func TestWriteBridge(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteBridge(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "de", "mobilej", "ABridge.class"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	c, err := classfile.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, bridge.ClassName, c.Name())
	for _, cat := range bridge.Categories() {
		d := bridge.Dispatch(cat)
		assert.NotNil(t, c.Method(d.Name, d.Descriptor), d.Name)
	}
}
