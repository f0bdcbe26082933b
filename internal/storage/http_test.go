package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStoreOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/contents/c1/download":
			w.Write([]byte("jpeg bytes"))
		case "/api/v1/contents/c1/details":
			json.NewEncoder(w).Encode(map[string]interface{}{"file_size": 10, "mime_type": "image/jpeg"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := NewHTTPStore(srv.URL)
	ctx := context.Background()

	obj, err := store.Open(ctx, "c1")
	require.NoError(t, err)
	data, err := io.ReadAll(obj)
	obj.Close()
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
	assert.Equal(t, int64(10), obj.Size)
	assert.Equal(t, "image/jpeg", obj.ContentType)

	_, err = store.Open(ctx, "missing")
	assert.Error(t, err)
}

func TestHTTPStorePublish(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/contents/parent-1/derived", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "derived-9"}`))
	}))
	defer srv.Close()

	id, err := NewHTTPStore(srv.URL).Publish(context.Background(), Output{
		ParentID: "parent-1",
		RunID:    "r1",
		Index:    2,
		FileName: "out.png",
		Body:     strings.NewReader("\x89PNG"),
	})
	require.NoError(t, err)
	assert.Equal(t, "derived-9", id)

	assert.Equal(t, "become_image", got["derivation_type"])
	assert.Equal(t, "become_image_v1_2", got["variant"])
	assert.Equal(t, "out.png", got["file_name"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("\x89PNG")), got["content_data"])
	assert.Contains(t, got["tags"], "run:r1")
}

func TestHTTPStorePublishError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "parent not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPStore(srv.URL).Publish(context.Background(), Output{ParentID: "p", Body: strings.NewReader("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOutputNaming(t *testing.T) {
	out := Output{ParentID: "p", RunID: "run-7", Index: 1}
	assert.Equal(t, "become_image_v1_1", out.Variant())
	assert.Equal(t, []string{"become_image", "become_image_v1_1", "run:run-7"}, out.Tags())
	assert.Equal(t, "become_image_v1_1.png", out.fileName())

	assert.Equal(t, []string{"become_image", "become_image_v1_0"}, Output{}.Tags())
}
