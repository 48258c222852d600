package actor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDirectory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := filepath.Join(t.TempDir(), "members.json")
	require.NoError(t, os.WriteFile(p, []byte(`[
		{"id": "222", "displayName": "Smithy", "username": "smithy99"},
		{"id": "111", "displayName": "Smith", "username": "smith_j", "nickname": "J"}
	]`), 0o600))

	d, err := NewFileDirectory(p)
	require.NoError(t, err)

	a, err := d.LookupID(ctx, "111")
	require.NoError(t, err)
	assert.Equal("Smith", a.DisplayName)
	assert.Equal("J", a.Nickname)

	l, err := d.Members(ctx)
	require.NoError(t, err)
	require.Len(t, l, 2)
	assert.Equal("111", l[0].ID)

	// renamed out-of-band
	require.NoError(t, os.WriteFile(p, []byte(`[{"id": "111", "displayName": "Jay"}]`), 0o600))
	require.NoError(t, d.Reload())
	a, err = d.LookupID(ctx, "111")
	require.NoError(t, err)
	assert.Equal("Jay", a.DisplayName)
	_, err = d.LookupID(ctx, "222")
	assert.ErrorIs(err, ErrActorNotFound)

	require.NoError(t, os.WriteFile(p, []byte(`[{"displayName": "nobody"}]`), 0o600))
	assert.Error(d.Reload())
	// failed reload keeps the previous list
	_, err = d.LookupID(ctx, "111")
	assert.NoError(err)
}
