package callback_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/manager/callback"
)

func TestAddSnapshotDel(t *testing.T) {
	reg := callback.New()
	key := capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 1}

	reg.Add(key, "f", 0)
	reg.Add(key, "f", 3)
	assert.Equal(t, 2, callback.CountBits(reg.Snapshot(key)))
	assert.Equal(t, []uint32{0, 3}, callback.Bits(reg.Snapshot(key)))

	reg.Del(key, 0)
	assert.Equal(t, []uint32{3}, callback.Bits(reg.Snapshot(key)))
}

func TestDelToEmptyDestroysEntry(t *testing.T) {
	reg := callback.New()
	key := capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 2}

	reg.Add(key, "f", 1)
	reg.Del(key, 1)
	assert.Equal(t, uint64(0), reg.Snapshot(key))
}

func TestClearReturnsPriorBitmapAndEmpties(t *testing.T) {
	reg := callback.New()
	key := capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 3}

	reg.Add(key, "f", 0)
	reg.Add(key, "f", 1)
	bitmap := reg.Clear(key)
	assert.Equal(t, 2, callback.CountBits(bitmap))
	assert.Equal(t, uint64(0), reg.Snapshot(key))
}

func TestSnapshotOfUnknownKeyIsZero(t *testing.T) {
	reg := callback.New()
	key := capfs.FileKey{ManagerID: 9, FsIno: 9, FileIno: 9}
	assert.Equal(t, uint64(0), reg.Snapshot(key))
}

func TestCountBitsAndBits(t *testing.T) {
	assert.Equal(t, 0, callback.CountBits(0))
	assert.Equal(t, 3, callback.CountBits(0b1011))
	assert.Equal(t, []uint32{0, 1, 3}, callback.Bits(0b1011))
}
