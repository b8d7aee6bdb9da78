package storageurl

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/snapnourish/internal/models"
)

const testBucket = "snapnourish-test.firebasestorage.app"

func TestResolveProviderURL(t *testing.T) {
	r := New("", testBucket)

	paths := []string{
		"users/u1/nutrition/images/img.jpg",
		"users/u 2/nutrition/images/brunch & coffee.png",
		"plain.jpg",
		"users/ü/файл.jpeg",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			raw := "https://firebasestorage.googleapis.com/v0/b/" + testBucket + "/o/" + url.PathEscape(p) + "?alt=media&token=abc"
			got, err := r.Resolve(raw)
			require.NoError(t, err)
			assert.Equal(t, testBucket, got.Bucket)
			assert.Equal(t, p, got.ObjectPath)
		})
	}
}

func TestResolveProviderURLBucketEndingInO(t *testing.T) {
	r := New("", testBucket)

	for _, raw := range []string{
		"https://firebasestorage.googleapis.com/v0/b/demo/o/users%2Fu1%2Fimg.jpg?alt=media",
		"https://firebasestorage.googleapis.com/v0/b/photo/o/users%2Fu1%2Fimg.jpg?alt=media&token=t",
		"https://firebasestorage.googleapis.com/v0/b/o/o/users%2Fu1%2Fimg.jpg?alt=media",
		"https://firebasestorage.googleapis.com/v0/b/todo.appspot.com/o/users%2Fu1%2Fimg.jpg?alt=media",
	} {
		got, err := r.Resolve(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "users/u1/img.jpg", got.ObjectPath, raw)
		assert.Equal(t, testBucket, got.Bucket, raw)
	}
}

func TestResolveProviderURLWithoutObjectSegment(t *testing.T) {
	r := New("", testBucket)

	_, err := r.Resolve("https://firebasestorage.googleapis.com/v0/b/demo/users%2Fu1%2Fimg.jpg?alt=media")
	assert.ErrorIs(t, err, models.ErrInvalidProviderURLFormat)
}

func TestResolveProviderURLWithoutQuery(t *testing.T) {
	r := New("", testBucket)

	_, err := r.Resolve("https://firebasestorage.googleapis.com/v0/b/" + testBucket + "/o/users%2Fu1%2Fimg.jpg")
	assert.ErrorIs(t, err, models.ErrInvalidProviderURLFormat)
	assert.Equal(t, models.KindURLResolution, models.KindOf(err))
}

func TestResolveGenericURL(t *testing.T) {
	r := New("", testBucket)

	tests := []struct {
		raw        string
		wantBucket string
		wantPath   string
	}{
		{"https://storage.googleapis.com/bkt/users/u1/img.jpg", "bkt", "users/u1/img.jpg"},
		{"https://storage.googleapis.com/bkt/img.jpg", "bkt", "img.jpg"},
		{"https://storage.googleapis.com/bkt/a%20b/c%2Bd.jpg?x=1", "bkt", "a b/c+d.jpg"},
		{"http://STORAGE.googleapis.com/other-bucket/deep/er/path.png", "other-bucket", "deep/er/path.png"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := r.Resolve(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBucket, got.Bucket)
			assert.Equal(t, tc.wantPath, got.ObjectPath)
		})
	}
}

func TestResolveGenericURLTooShort(t *testing.T) {
	r := New("", testBucket)

	for _, raw := range []string{
		"https://storage.googleapis.com/bkt",
		"https://storage.googleapis.com/bkt/",
		"https://storage.googleapis.com/",
	} {
		_, err := r.Resolve(raw)
		assert.ErrorIs(t, err, models.ErrInvalidGenericURLFormat, raw)
	}
}

func TestResolveUnrecognized(t *testing.T) {
	r := New("", testBucket)

	for _, raw := range []string{
		"ftp://unsupported",
		"",
		"not a url",
		"https://example.com/bkt/img.jpg",
		"gs://bkt/img.jpg",
	} {
		_, err := r.Resolve(raw)
		assert.ErrorIs(t, err, models.ErrUnrecognizedURLFormat, raw)
	}
}

func TestResolveProviderTakesPriority(t *testing.T) {
	// the provider host contains the generic host as a suffix
	r := New("", testBucket)

	got, err := r.Resolve("https://firebasestorage.googleapis.com/v0/b/ignored/o/img.jpg?alt=media")
	require.NoError(t, err)
	assert.Equal(t, testBucket, got.Bucket)
	assert.Equal(t, "img.jpg", got.ObjectPath)
}

func TestResolveExtraGenericHost(t *testing.T) {
	r := New("", testBucket, "storage.googleapis.com", "minio.internal:9000")

	got, err := r.Resolve("http://minio.internal:9000/uploads/users/u1/img.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedObject{Bucket: "uploads", ObjectPath: "users/u1/img.jpg"}, got)
}

func TestGenericURLRoundTrip(t *testing.T) {
	r := New("", testBucket)

	raw := GenericURL("", "bkt", "users/u1/nutrition/images/my photo.jpg")
	assert.Equal(t, "https://storage.googleapis.com/bkt/users/u1/nutrition/images/my%20photo.jpg", raw)

	got, err := r.Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, "bkt", got.Bucket)
	assert.Equal(t, "users/u1/nutrition/images/my photo.jpg", got.ObjectPath)
}
