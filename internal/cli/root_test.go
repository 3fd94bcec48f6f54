package cli

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "compensate", "issue", "bind", "grant"} {
		assert.True(t, names[want], want)
	}
}

func TestCompensateRequiresProvenance(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"compensate", "--tx", "0xc1"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block")
}

func TestMigrateSQLite(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "mint.db")
	t.Setenv("SIGNER_KEYS_DIR", ".")
	t.Setenv("CURRENCIES", "T721Token=0x00000000000000000000000000000000000000aa")
	t.Setenv("RIGHTS_CONFIG", "")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "schema up to date")
}

func TestGrantWithRightsConfig(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "mint.db")
	t.Setenv("SIGNER_KEYS_DIR", "")
	t.Setenv("CURRENCIES", "")
	t.Setenv("RIGHTS_CONFIG", "rights.yaml")
	require.NoError(t, os.WriteFile("rights.yaml", []byte("venue:\n  editable: true\n"), 0o600))

	root := NewRootCommand()
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())

	root = NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"grant", "--grantee", "0xabc", "--type", "venue", "--value", "v-1", "--rights", "owner"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "granted [owner] on venue v-1 to 0xabc")

	// event is not declared in the file, so the default table is not used.
	root = NewRootCommand()
	root.SetArgs([]string{"grant", "--grantee", "0xabc", "--type", "event", "--value", "e-1", "--rights", "owner"})
	assert.Error(t, root.Execute())
}

func TestIssueRequiresSigner(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "mint.db")
	t.Setenv("SIGNER_KEYS_DIR", "")
	t.Setenv("CURRENCIES", "")
	t.Setenv("RIGHTS_CONFIG", "")

	root := NewRootCommand()
	root.SetArgs([]string{"migrate"})
	require.NoError(t, root.Execute())

	root = NewRootCommand()
	root.SetArgs([]string{"issue", "--grantee", "0xabc", "--category", "c-1", "--currency", "T721Token"})
	err := root.Execute()
	assert.ErrorIs(t, err, config.ErrMissingSigner)
}
