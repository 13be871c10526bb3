package routines

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeauto/internal/automation"
)

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	recs, err := Defaults("u1")
	require.NoError(t, err)
	require.Len(t, recs, 8)
	require.NoError(t, Check(recs))

	kinds := map[automation.TriggerKind]int{}
	for _, rec := range recs {
		assert.Equal(t, "u1", rec.UserID)
		r, err := automation.DecodeRoutine(rec)
		require.NoError(t, err)
		assert.True(t, r.Enabled, rec.Name)
		for _, tr := range r.Triggers {
			kinds[tr.Kind()]++
		}
	}
	assert.Equal(t, 3, kinds[automation.TriggerScheduledTime])
	assert.Equal(t, 2, kinds[automation.TriggerMoodBelowThreshold])

	_, err = Defaults(" ")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"routines":[{
	  "name":"Hydrate","userId":"u9",
	  "triggers":[{"type":"SCHEDULED_TIME","params":{"cron":"0 * * * *"}}],
	  "actions":[{"type":"SEND_NOTIFICATION","params":{"message":"Drink water"}}]
	}]}`), 0o600))
	recs, err := LoadFile(good)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NoError(t, Check(recs))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
routines:
  - name: Broken
    triggers:
      - type: SCHEDULED_TIME
        params: {cron: "99 * * * *"}
    actions:
      - type: SEND_NOTIFICATION
        params: {message: hi}
`), 0o600))
	recs, err = LoadFile(bad)
	require.NoError(t, err)
	err = Check(recs)
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrInvalidRoutine)
	assert.Contains(t, err.Error(), `"Broken"`)

	empty := filepath.Join(dir, "empty.yml")
	require.NoError(t, os.WriteFile(empty, []byte("routines: []\n"), 0o600))
	_, err = LoadFile(empty)
	assert.Error(t, err)
}
