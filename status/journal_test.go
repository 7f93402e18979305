package status

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RecordsFeedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.cbor")

	j, err := OpenJournal(path)
	require.NoError(t, err)

	f, _ := newTestFeed(t, 10)
	detach := j.Attach(f)

	f.Printf(SourceNFC, "URI: https://example.com")
	f.Errorf(SourceSmartCard, "No smart card readers found")
	f.Printf(SourceBLE, "Publishing beacon 0xFFFE: 12-34")
	require.NoError(t, f.Sync())
	detach()
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	var all []Event
	require.NoError(t, ReadJournal(path, JournalFilter{}, func(ev Event) error {
		all = append(all, ev)
		return nil
	}))
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, "URI: https://example.com", all[0].Text)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].Time.IsZero())

	var errorsOnly []Event
	require.NoError(t, ReadJournal(path, JournalFilter{ErrorsOnly: true}, func(ev Event) error {
		errorsOnly = append(errorsOnly, ev)
		return nil
	}))
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, SourceSmartCard, errorsOnly[0].Source)

	var ble []Event
	require.NoError(t, ReadJournal(path, JournalFilter{Source: SourceBLE}, func(ev Event) error {
		ble = append(ble, ev)
		return nil
	}))
	require.Len(t, ble, 1)
}

func TestJournal_RecordAfterCloseIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.cbor")
	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.NoError(t, j.Record(Event{Kind: KindLine, Text: "late"}))
}

func TestReadJournal_MissingFile(t *testing.T) {
	err := ReadJournal(filepath.Join(t.TempDir(), "nope.cbor"), JournalFilter{}, func(Event) error { return nil })
	assert.Error(t, err)
}
