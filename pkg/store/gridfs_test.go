package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// offlineGridFS builds a store around a client that never dials; bucket
// handles can be created without a server.
func offlineGridFS(t *testing.T) *GridFS {
	t.Helper()
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI("mongodb://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return &GridFS{client: client, db: client.Database("rendermill"), name: "artifacts"}
}

func TestGridFSBucketPerCall(t *testing.T) {
	g := offlineGridFS(t)

	short, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	first, err := g.bucket(short)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.bucket(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("concurrent requests must not share a bucket handle")
	}
}

func TestGridFSBucketConcurrentDeadlines(t *testing.T) {
	g := offlineGridFS(t)

	var wg sync.WaitGroup
	buckets := make([]*gridfs.Bucket, 16)
	for i := range buckets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(i+1)*time.Second)
			defer cancel()
			b, err := g.bucket(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			buckets[i] = b
		}()
	}
	wg.Wait()

	seen := make(map[*gridfs.Bucket]bool)
	for _, b := range buckets {
		if b != nil && seen[b] {
			t.Fatal("bucket handle reused across calls")
		}
		seen[b] = true
	}
}
