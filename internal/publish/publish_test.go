package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
)

type mockPutter struct {
	keys   []string
	bodies []string
	err    error
}

func (m *mockPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.keys = append(m.keys, *in.Bucket+"/"+*in.Key)
	m.bodies = append(m.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestKey(t *testing.T) {
	p := New(&mockPutter{}, "bucket", "ihewa/outputs", nil)
	assert.Equal(t, "ihewa/outputs/P/P_20200101.tif", p.Key("P", "/tmp/ws/IHEWAcollect/P/download/P_20200101.tif"))

	p = New(&mockPutter{}, "bucket", "", nil)
	assert.Equal(t, "P/P_20200101.tif", p.Key("P", "P_20200101.tif"))
}

func TestResults(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "P_20200101.tif", "tiff-a")
	b := writeFile(t, dir, "P_20200102.tif", "tiff-b")
	m := &mockPutter{}
	p := New(m, "bucket", "out", nil)

	uploaded, failed := p.Results(context.Background(), "P", []dispatch.FetchResult{
		{Output: a},
		{Output: b, Skipped: true},
		{Output: filepath.Join(dir, "P_20200103.tif"), Err: errors.New("decode failed")},
		{Output: filepath.Join(dir, "P_20200104.tif")},
	})
	assert.Zero(t, failed)
	assert.Equal(t, []string{"out/P/P_20200101.tif", "out/P/P_20200102.tif"}, uploaded)
	assert.Equal(t, []string{"bucket/out/P/P_20200101.tif", "bucket/out/P/P_20200102.tif"}, m.keys)
	assert.Equal(t, []string{"tiff-a", "tiff-b"}, m.bodies)
}

func TestResults_PutFailure(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "P_20200101.tif", "tiff-a")
	p := New(&mockPutter{err: errors.New("access denied")}, "bucket", "out", nil)

	uploaded, failed := p.Results(context.Background(), "P", []dispatch.FetchResult{{Output: a}})
	assert.Empty(t, uploaded)
	assert.Equal(t, 1, failed)

	_, err := p.Upload(context.Background(), "P", a)
	assert.ErrorContains(t, err, "s3://bucket/out/P/P_20200101.tif")
}
