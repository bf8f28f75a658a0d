package model

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/model/modeltest"
)

const projectAtom = `<?xml version="1.0" encoding="UTF-8"?>
<entry xmlns="http://www.w3.org/2005/Atom" xmlns:A="urn:schemas-autodesk-com:partatom">
  <title>Tower</title>
  <A:features>
    <A:feature>
      <A:title>Project Information</A:title>
      <A:group>
        <A:title>Other</A:title>
        <Project_Name type="custom">Tower</Project_Name>
        <Client_Name type="custom">ACME</Client_Name>
      </A:group>
      <A:group>
        <A:title>Identity Data</A:title>
        <Project_Number type="custom">P-104</Project_Number>
      </A:group>
    </A:feature>
  </A:features>
</entry>`

const familyAtom = `<?xml version="1.0" encoding="UTF-8"?>
<entry xmlns="http://www.w3.org/2005/Atom" xmlns:A="urn:schemas-autodesk-com:partatom">
  <title>Single-Flush</title>
  <category><term>Doors</term><scheme>adsk:revit:grouping</scheme></category>
  <category><term>Walls</term><scheme>adsk:revit:hostcategory</scheme></category>
  <A:family type="user">
    <A:variationCount>2</A:variationCount>
  </A:family>
</entry>`

func writeModel(t *testing.T, dir, name string, info []string, atom string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, modeltest.WriteModel(p, info, atom))
	return p
}

func TestInspectProject(t *testing.T) {
	info := modeltest.Project("20230308_1635(x64)", "2024")
	info[0] = "Worksharing: Local"
	info[2] = `Central Model Path: \\server\share\Tower.rvt`
	p := writeModel(t, t.TempDir(), "tower.rvt", info, projectAtom)

	f, err := Inspect(p)
	require.NoError(t, err)
	require.NotNil(t, f.Product)
	assert.Equal(t, 2024, f.Year())
	assert.Equal(t, "24.0.4.427", f.Product.Version)
	assert.Equal(t, "Build: 20230308_1635(x64)", f.BuildInfoLine)
	assert.True(t, f.IsWorkshared)
	assert.Equal(t, `\\server\share\Tower.rvt`, f.CentralModelPath)
	assert.Equal(t, `C:\Projects\model.rvt`, f.LastSavedPath)
	assert.Equal(t, "6f1c2f0e-3f5b-4c8e-9a59-1f2d8b1e9c44", f.UniqueID.String())
	assert.Equal(t, 12, f.DocumentIncrement)
	assert.Equal(t, 3, f.OpenWorksetConfig)
	assert.False(t, f.IsFamily)

	want := map[string]string{"Project Name": "Tower", "Client Name": "ACME", "Project Number": "P-104"}
	if diff := cmp.Diff(want, f.ProjectInfo); diff != "" {
		t.Errorf("ProjectInfo (-want +got):\n%s", diff)
	}
}

func TestInspectFamilyUnknownBuild(t *testing.T) {
	p := writeModel(t, t.TempDir(), "door.rfa", modeltest.Project("20991231_0000(x64)", "2099"), familyAtom)

	f, err := Inspect(p)
	require.NoError(t, err)
	require.NotNil(t, f.Product)
	assert.Equal(t, host.Product{Name: "Autodesk Revit 2099", BuildNumber: "20991231_0000", BuildTarget: "x64", ProductYear: 2099}, *f.Product)
	assert.False(t, f.IsWorkshared)
	assert.True(t, f.IsFamily)
	assert.Equal(t, "Doors", f.CategoryName)
	assert.Equal(t, "Walls", f.HostCategoryName)
}

func TestInspectLegacyBuild(t *testing.T) {
	p := writeModel(t, t.TempDir(), "old.rvt", []string{
		"Worksharing: Not enabled",
		"Revit Build: Autodesk Revit 2012 (Build: 20110309_2315(x64))",
		"Last Save Path: C:\\old.rvt",
	}, "")

	f, err := Inspect(p)
	require.NoError(t, err)
	assert.Nil(t, f.Product)
	assert.Equal(t, 0, f.Year())
	assert.Equal(t, "Revit Build: Autodesk Revit 2012 (Build: 20110309_2315(x64))", f.BuildInfoLine)
}

func TestInspectErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Inspect(filepath.Join(dir, "missing.rvt"))
	assert.Equal(t, fault.NotFound, fault.KindOf(err))

	text := filepath.Join(dir, "text.rvt")
	require.NoError(t, os.WriteFile(text, []byte("not a compound file"), 0644))
	_, err = Inspect(text)
	assert.ErrorIs(t, err, ErrNotModel)
	assert.Equal(t, fault.Validation, fault.KindOf(err))

	other := filepath.Join(dir, "other.rvt")
	require.NoError(t, os.WriteFile(other, modeltest.CompoundFile(map[string][]byte{"Contents": []byte("x")}), 0644))
	_, err = Inspect(other)
	assert.ErrorIs(t, err, ErrNotModel)

	noBuild := writeModel(t, dir, "nobuild.rvt", []string{"Worksharing: Not enabled"}, "")
	_, err = Inspect(noBuild)
	assert.ErrorIs(t, err, ErrNotModel)

	badAtom := writeModel(t, dir, "badatom.rvt", modeltest.Project("20230308_1635(x64)", "2024"), "<entry><unclosed>")
	_, err = Inspect(badAtom)
	assert.Equal(t, fault.Validation, fault.KindOf(err))
}

func scanFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0755))
	writeModel(t, dir, "a.rvt", modeltest.Project("20230308_1635(x64)", "2024"), projectAtom)
	writeModel(t, sub, "c.rfa", modeltest.Project("20220304_1515(x64)", "2023"), familyAtom)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.RVT"), []byte("corrupt"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	return dir
}

func TestScan(t *testing.T) {
	dir := scanFixture(t)

	files, errs, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "a.rvt"), files[0].Path)
	require.Len(t, errs, 1)
	assert.Equal(t, filepath.Join(dir, "sub", "b.RVT"), errs[0].Item)

	files, errs, err = Scan(dir, Project, Family)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Len(t, errs, 1)

	files, errs, err = Scan(filepath.Join(dir, "a.rvt"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Empty(t, errs)

	_, _, err = Scan(filepath.Join(dir, "nope"))
	assert.Equal(t, fault.NotFound, fault.KindOf(err))
}

func TestWriteCSV(t *testing.T) {
	files, errs, err := Scan(scanFixture(t), Project, Family)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, files, errs))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1+len(files)+len(errs))
	assert.Equal(t, modelHeader, rows[0])

	for _, row := range rows[1 : 1+len(files)] {
		assert.Empty(t, row[8], "success rows have no error")
		assert.NotEmpty(t, row[1])
	}
	first := rows[1]
	assert.Equal(t, "Autodesk Revit 2024", first[1])
	assert.Equal(t, "20230308_1635", first[2])
	assert.Equal(t, "False", first[3])
	assert.Equal(t, `{"Client Name":"ACME","Project Name":"Tower","Project Number":"P-104"}`, first[7])

	errRow := rows[len(rows)-1]
	assert.Equal(t, errs[0].Item, errRow[0])
	assert.NotEmpty(t, errRow[8])
	for _, col := range errRow[1:8] {
		assert.Empty(t, col)
	}
}

func TestWriteBuildsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBuildsCSV(&buf, host.Supported()[:2]))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"buildnum", "buildversion", "productname"}, rows[0])
	assert.Equal(t, []string{"20240819_1500", "25.2.0.38", "Autodesk Revit 2025"}, rows[1])
}
