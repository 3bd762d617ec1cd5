package store_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"

	"github.com/blockforge/compiler/internal/store"
)

// fakeS3 is a minimal in-process stand-in for the S3 object API surface
// S3Adapter exercises: PUT/GET/DELETE on a single object, and a ListObjectsV2
// query over a prefix. Just enough XML/REST to drive aws-sdk-go's S3 client
// against something other than a real bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3Server(t *testing.T) *httptest.Server {
	t.Helper()
	f := &fakeS3{objects: make(map[string][]byte)}
	return httptest.NewServer(http.HandlerFunc(f.serve))
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	parts := strings.SplitN(path, "/", 2)
	bucket := parts[0]

	if len(parts) == 1 || (r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2") {
		f.list(w, r, bucket)
		return
	}
	key := parts[1]

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.objects[key] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		f.mu.Lock()
		body, ok := f.objects[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code></Error>`)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	case http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request, bucket string) {
	prefix := r.URL.Query().Get("prefix")
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	for _, k := range keys {
		fmt.Fprintf(&body, `<Contents><Key>%s</Key></Contents>`, k)
	}
	body.WriteString(`<IsTruncated>false</IsTruncated></ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, body.String())
}

func newTestS3Adapter(t *testing.T) *store.S3Adapter {
	t.Helper()
	ts := newFakeS3Server(t)
	t.Cleanup(ts.Close)

	sess, err := awssession.NewSession(&aws.Config{
		Region:           aws.String("us-east-1"),
		Endpoint:         aws.String(ts.URL),
		Credentials:      credentials.NewStaticCredentials("fake", "fake", ""),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	return store.NewS3Adapter(sess, "archive-bucket", "compiler-archive/")
}

func TestS3AdapterSetGetDelete(t *testing.T) {
	a := newTestS3Adapter(t)
	ctx := context.Background()

	type payload struct{ Value string }
	if err := a.Set(ctx, store.Key{"a", "b"}, payload{Value: "x"}, 0); err != nil {
		t.Fatal(err)
	}

	var out payload
	_, ok, err := a.Get(ctx, store.Key{"a", "b"}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || out.Value != "x" {
		t.Fatalf("expected to find archived entry, got ok=%v out=%+v", ok, out)
	}

	if err := a.Delete(ctx, store.Key{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	_, ok, err = a.Get(ctx, store.Key{"a", "b"}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected deleted key to be reported missing")
	}
}

func TestS3AdapterMissingKey(t *testing.T) {
	a := newTestS3Adapter(t)
	var out struct{}
	_, ok, err := a.Get(context.Background(), store.Key{"missing"}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing key to report not found")
	}
}

func TestS3AdapterListAndStats(t *testing.T) {
	a := newTestS3Adapter(t)
	ctx := context.Background()
	for _, k := range []store.Key{{"cache", "filters", "a"}, {"cache", "filters", "b"}, {"metadata", "x"}} {
		if err := a.Set(ctx, k, "v", 0); err != nil {
			t.Fatal(err)
		}
	}

	items, err := a.List(ctx, store.ListOptions{Prefix: store.Key{"cache", "filters"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items under prefix, got %d", len(items))
	}

	st, err := a.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.EntryCount != 3 {
		t.Fatalf("expected 3 archived entries, got %d", st.EntryCount)
	}
}
