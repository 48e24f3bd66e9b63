package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newWorkerTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

// fakeArtifacts is an in-memory ArtifactStore.
type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: map[string][]byte{}}
}

func (f *fakeArtifacts) Put(_ context.Context, key, _ string, body io.Reader) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *fakeArtifacts) PutFile(_ context.Context, key, localPath string) error {
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = raw
	return nil
}

func (f *fakeArtifacts) Presign(_ context.Context, key string) (string, error) {
	return fmt.Sprintf("https://signed.test/%s?sig=abc", key), nil
}

func (f *fakeArtifacts) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	return out
}
