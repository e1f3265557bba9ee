package kubo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestAddSendsFixedParamsAndDecodesHash(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"Hash":"QmTest","Size":"11"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	res, err := c.Add(context.Background(), []byte("hello world"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Hash != "QmTest" {
		t.Fatalf("expected hash QmTest, got %s", res.Hash)
	}
	for k, v := range AddParams {
		if gotQuery.Get(k) != v {
			t.Fatalf("expected add param %s=%s, got %s", k, v, gotQuery.Get(k))
		}
	}
}

func TestAddPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if _, err := c.Add(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestPinLSReportsPresence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Keys":{"QmTest":{"Type":"recursive"}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	pinned, err := c.PinLS(context.Background(), "QmTest")
	if err != nil {
		t.Fatalf("pin/ls: %v", err)
	}
	if !pinned {
		t.Fatalf("expected QmTest to be reported pinned")
	}

	other, err := c.PinLS(context.Background(), "QmOther")
	if err != nil {
		t.Fatalf("pin/ls: %v", err)
	}
	if other {
		t.Fatalf("expected QmOther to be reported unpinned")
	}
}

func TestFindProvsParsesStreamedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Responses":[{"ID":"peer-1"},{"ID":"peer-2"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	providers, err := c.FindProvs(context.Background(), "QmTest", 5)
	if err != nil {
		t.Fatalf("findprovs: %v", err)
	}
	if len(providers) != 2 || providers[0] != "peer-1" || providers[1] != "peer-2" {
		t.Fatalf("unexpected providers: %v", providers)
	}
}

func TestBlockGetReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raw-block-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	b, err := c.BlockGet(context.Background(), "QmTest")
	if err != nil {
		t.Fatalf("block/get: %v", err)
	}
	if string(b) != "raw-block-bytes" {
		t.Fatalf("unexpected body: %s", b)
	}
}

func TestPostHelperUsedByPinAddPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second)
	if err := c.PinAdd(context.Background(), "QmTest"); err == nil {
		t.Fatalf("expected error from pin/add on 403")
	}
}
