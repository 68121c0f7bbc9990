package wire_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/wire"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/hcache"
)

type nopFetcher struct{}

func (nopFetcher) GetHashes(ctx context.Context, file capfs.FileKey, begin, count int64) (capfs.Recipe, int64, error) {
	return make(capfs.Recipe, count), 0, nil
}

func TestCallbackInvalidateAndUpdateOverTheWire(t *testing.T) {
	hc, err := hcache.New(16, nopFetcher{})
	require.NoError(t, err)

	svc := &wire.CallbackService{HCache: hc}
	listener, err := wire.Serve("127.0.0.1:0", "Callback", svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	transport := wire.CallbackTransport{Timeout: 2 * time.Second}
	file := capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 1}
	hc.Put(file, 0, capfs.Recipe{capfs.Digest([]byte("a")), capfs.Digest([]byte("b"))})
	require.Equal(t, 2, hc.Len())

	require.NoError(t, transport.Update(context.Background(), listener.Addr().String(), file, 5, capfs.Recipe{capfs.Digest([]byte("c"))}))
	assert.Equal(t, 3, hc.Len())

	require.NoError(t, transport.Invalidate(context.Background(), listener.Addr().String(), file, -1, 0))
	assert.Equal(t, 0, hc.Len(), "begin_chunk=-1 must clear the whole file")
}
