package election

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileMarkFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mark")

	mf, err := NewFileMarkFile(path)
	require.NoError(t, err)
	require.Zero(t, mf.CandidateTermID())

	require.NoError(t, mf.WriteCandidateTermID(42))
	require.NoError(t, mf.Force(FsyncNormal))
	require.NoError(t, mf.Close())

	reopened, err := NewFileMarkFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(42), reopened.CandidateTermID())
}

func TestFileMarkFileForceNoneSkipsSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mark")
	mf, err := NewFileMarkFile(path)
	require.NoError(t, err)
	require.NoError(t, mf.WriteCandidateTermID(7))
	require.NoError(t, mf.Force(FsyncNone))
	require.NoError(t, mf.Close())
}

// crashableMarkFile wraps a FileMarkFile and can simulate a crash that loses
// the write half of write-then-force: a vote must never be cast for a
// candidateTermId that didn't survive a crash between WriteCandidateTermID
// and Force.
type crashableMarkFile struct {
	*FileMarkFile
	crashBeforeForce bool
	forced           bool
	dirty            bool
	lastForced       int64
}

// WriteCandidateTermID remembers the value held before the first unforced
// write, so a simulated crash can put it back.
func (c *crashableMarkFile) WriteCandidateTermID(id int64) error {
	if !c.dirty {
		c.lastForced = c.FileMarkFile.CandidateTermID()
		c.dirty = true
	}
	return c.FileMarkFile.WriteCandidateTermID(id)
}

func (c *crashableMarkFile) Force(level FsyncLevel) error {
	if c.crashBeforeForce {
		return errOnReopen(c.FileMarkFile, c.lastForced)
	}
	c.forced = true
	c.dirty = false
	return c.FileMarkFile.Force(level)
}

// errOnReopen simulates a crash by throwing away the unforced write: the OS
// would still return that write on reopen, so it first rewrites lastForced,
// then reopens the on-disk file and resets the in-memory cache to match.
func errOnReopen(mf *FileMarkFile, lastForced int64) error {
	if err := mf.WriteCandidateTermID(lastForced); err != nil {
		return err
	}
	path := mf.file.Name()
	_ = mf.file.Close()
	reopened, err := NewFileMarkFile(path)
	if err != nil {
		return err
	}
	mf.file = reopened.file
	mf.cached = reopened.cached
	return nil
}

func TestMarkFileFault_CrashBeforeForceDoesNotLeakUnpersistedTerm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mark")
	base, err := NewFileMarkFile(path)
	require.NoError(t, err)

	require.NoError(t, base.WriteCandidateTermID(1))
	require.NoError(t, base.Force(FsyncNormal))

	cm := &crashableMarkFile{FileMarkFile: base, crashBeforeForce: true}

	require.NoError(t, cm.WriteCandidateTermID(2))
	require.NoError(t, cm.Force(FsyncNormal)) // simulates the crash, not a real force
	require.False(t, cm.forced)

	// After the simulated crash, the durable value must still be the last
	// one that was actually forced, not the lost write.
	require.Equal(t, int64(1), cm.CandidateTermID())
}
