package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mit.edu/dsg/bmindex/catalog"
	"mit.edu/dsg/bmindex/common"
)

type cli struct {
	dataDir string
}

func newCLI(t *testing.T) *cli {
	return &cli{dataDir: filepath.Join(t.TempDir(), "data")}
}

func (c *cli) exec(args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", c.dataDir, "--wal-sync=false", "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.exec(args...)
	require.NoError(t, err, out)
	return out
}

func writeItems(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items.csv")
	content := "id,color,size\n" + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func buildItems(t *testing.T, c *cli, csvPath string) {
	t.Helper()
	out := c.run(t, "build", "items_color", "--csv", csvPath, "--header",
		"--schema", "id:int64,color:string,size:int32", "--columns", "color")
	assert.Contains(t, out, "built index items_color")
}

func TestBuildAndLookup(t *testing.T) {
	c := newCLI(t)
	csvPath := writeItems(t, "1,red,3", "2,blue,4", "3,red,5", "#4,red,6")
	buildItems(t, c, csvPath)

	out := c.run(t, "lookup", "items_color", "red")
	assert.Equal(t, "(0,1)\n(0,3)\n(2 rows)\n", out)
	out = c.run(t, "lookup", "items_color", "blue", "--tuples")
	assert.Equal(t, "(0,2)\n(1 rows)\n", out)
	out = c.run(t, "lookup", "items_color", "green")
	assert.Equal(t, "(0 rows)\n", out)

	def, err := catalog.LoadIndex(filepath.Join(c.dataDir, "items_color.yaml"))
	require.NoError(t, err)
	assert.Equal(t, firstUserOid, def.Oid)
	assert.Equal(t, csvPath, def.Table.Source)
	assert.True(t, def.Table.SourceHeader)

	_, err = c.exec("build", "items_color", "--csv", csvPath, "--header",
		"--schema", "id:int64,color:string,size:int32", "--columns", "color")
	assert.ErrorContains(t, err, "already exists")
}

func TestInsertAndVacuum(t *testing.T) {
	c := newCLI(t)
	csvPath := writeItems(t, "1,red,3", "2,blue,4", "3,red,5")
	buildItems(t, c, csvPath)

	out := c.run(t, "insert", "items_color", "0:4", "4", "green", "1")
	assert.Contains(t, out, "indexed row (0,4)")
	assert.Equal(t, "(0,4)\n(1 rows)\n", c.run(t, "lookup", "items_color", "green"))

	// Delete the second red row in the source and vacuum it out of the index.
	require.NoError(t, os.WriteFile(csvPath, []byte("id,color,size\n1,red,3\n2,blue,4\n#3,red,5\n"), 0o644))
	out = c.run(t, "vacuum", "items_color", "--analyze-only")
	assert.Contains(t, out, "1 deleted rows")
	out = c.run(t, "vacuum", "items_color")
	assert.Contains(t, out, "row references removed: 1")
	assert.Equal(t, "(0,1)\n(1 rows)\n", c.run(t, "lookup", "items_color", "red"))
}

func TestInspect(t *testing.T) {
	c := newCLI(t)
	buildItems(t, c, writeItems(t, "1,red,3", "2,null,4", "3,red,5"))

	out := c.run(t, "metap", "items_color")
	assert.Contains(t, out, "0xdabc9876")
	assert.Contains(t, out, "distinct values  2")
	assert.Contains(t, out, "value chain end  1")

	out = c.run(t, "valuep", "items_color", "1")
	assert.Contains(t, out, "1        (red)")
	assert.Contains(t, out, "2        (null)")

	out = c.run(t, "indexp", "items_color", "2")
	assert.Contains(t, out, "00000005 00000000")

	_, err := c.exec("valuep", "items_color", "0")
	assert.True(t, common.IsError(err, common.InvalidBlockError))
	_, err = c.exec("indexp", "items_color", "x")
	assert.Error(t, err)
}

func TestLookupArgumentErrors(t *testing.T) {
	c := newCLI(t)
	buildItems(t, c, writeItems(t, "1,red,3"))
	_, err := c.exec("lookup", "items_color", "red", "blue")
	assert.ErrorContains(t, err, "want 1 values")
	_, err = c.exec("lookup", "missing", "red")
	assert.Error(t, err)
	_, err = c.exec("insert", "items_color", "0-1", "1", "red", "3")
	assert.ErrorContains(t, err, "bad row id")
}

func TestParseSchema(t *testing.T) {
	cols, err := parseSchema("id:int64, name:text")
	require.NoError(t, err)
	assert.Equal(t, []catalog.Column{{Name: "id", Type: common.Int64Type}, {Name: "name", Type: common.StringType}}, cols)
	_, err = parseSchema("id")
	assert.Error(t, err)
	_, err = parseSchema("id:money")
	assert.Error(t, err)
}
