package materialize

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanmaulana/free-eml-extractor/model"
)

// failingFs fails every open of a file with the given base name.
type failingFs struct {
	afero.Fs
	failName string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if filepath.Base(name) == f.failName {
		return nil, &os.PathError{Op: "open", Path: name, Err: errors.New("disk full")}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func strPtr(s string) *string { return &s }

func readString(t *testing.T, fsys afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	return string(data)
}

func listDir(t *testing.T, fsys afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fsys, dir)
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func TestMaterializePlainOnly(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m := NewWithFs(fsys, nil)

	msg := &model.Message{
		Headers: model.Headers{
			From:    "John Doe <john@example.com>",
			Subject: "Hello",
		},
		PlainText: strPtr("This is a simple test email.\n"),
	}

	res, err := m.Materialize(msg, "/out", 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "email_1"), res.OutputDir)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []string{PlainBodyFile, HeadersFile}, listDir(t, fsys, res.OutputDir))
	assert.Equal(t,
		"From: John Doe <john@example.com>\nTo: \nSubject: Hello\nDate: \nCc: \nMessage-ID: \n",
		readString(t, fsys, filepath.Join(res.OutputDir, HeadersFile)))
	assert.Equal(t, "This is a simple test email.\n", readString(t, fsys, filepath.Join(res.OutputDir, PlainBodyFile)))
}

func TestMaterializeEmptyMessage(t *testing.T) {
	fsys := afero.NewMemMapFs()
	res, err := NewWithFs(fsys, nil).Materialize(&model.Message{}, "/out", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{HeadersFile}, listDir(t, fsys, res.OutputDir))
	assert.Equal(t,
		"From: \nTo: \nSubject: \nDate: \nCc: \nMessage-ID: \n",
		readString(t, fsys, filepath.Join(res.OutputDir, HeadersFile)))
}

func TestMaterializeEmptyBodiesAreWritten(t *testing.T) {
	fsys := afero.NewMemMapFs()
	msg := &model.Message{PlainText: strPtr(""), HTML: strPtr("")}

	res, err := NewWithFs(fsys, nil).Materialize(msg, "/out", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{HTMLBodyFile, PlainBodyFile, HeadersFile}, listDir(t, fsys, res.OutputDir))
}

func TestMaterializeAttachments(t *testing.T) {
	fsys := afero.NewMemMapFs()
	m := NewWithFs(fsys, nil)

	msg := &model.Message{
		HTML: strPtr("<p>hi</p>"),
		Attachments: []model.Attachment{
			{RawName: `company\materials\file.pdf`, Content: []byte("pdf")},
			{RawName: "contract:v2.docx", Content: []byte("docx")},
			{RawName: "report.pdf", Content: []byte("first")},
			{RawName: "report.pdf", Content: []byte("second")},
			{RawName: "", Content: []byte("anon")},
			{RawName: " ... ", Content: []byte("dots")},
			{RawName: "report_2.pdf", Content: []byte("third")},
		},
	}

	res, err := m.Materialize(msg, "/out", 2)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	attDir := filepath.Join(res.OutputDir, AttachmentsDir)
	assert.Equal(t, []string{
		"attachment_5",
		"attachment_6",
		"company_materials_file.pdf",
		"contract_v2.docx",
		"report.pdf",
		"report_2.pdf",
		"report_2_2.pdf",
	}, listDir(t, fsys, attDir))

	assert.Equal(t, "first", readString(t, fsys, filepath.Join(attDir, "report.pdf")))
	assert.Equal(t, "second", readString(t, fsys, filepath.Join(attDir, "report_2.pdf")))
	assert.Equal(t, "third", readString(t, fsys, filepath.Join(attDir, "report_2_2.pdf")))
	assert.Equal(t, "<p>hi</p>", readString(t, fsys, filepath.Join(res.OutputDir, HTMLBodyFile)))
}

func TestMaterializeDirectoryCollision(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/out/email_1", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/out/email_1_2", []byte("not a dir"), 0o644))
	m := NewWithFs(fsys, nil)

	res, err := m.Materialize(&model.Message{}, "/out", 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "email_1_3"), res.OutputDir)

	again, err := m.Materialize(&model.Message{}, "/out", 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "email_1_4"), again.OutputDir)

	other, err := m.Materialize(&model.Message{}, "/out", 2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out", "email_2"), other.OutputDir)
}

func TestMaterializeAttachmentWriteFailure(t *testing.T) {
	fsys := failingFs{Fs: afero.NewMemMapFs(), failName: "broken.bin"}
	msg := &model.Message{
		PlainText: strPtr("body"),
		Attachments: []model.Attachment{
			{RawName: "broken.bin", Content: []byte("x")},
			{RawName: "fine.bin", Content: []byte("y")},
		},
	}

	res, err := NewWithFs(fsys, nil).Materialize(msg, "/out", 1)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "broken.bin")
	assert.Contains(t, res.Warnings[0], "disk full")

	assert.Equal(t, []string{AttachmentsDir, PlainBodyFile, HeadersFile}, listDir(t, fsys, res.OutputDir))
	assert.Equal(t, []string{"fine.bin"}, listDir(t, fsys, filepath.Join(res.OutputDir, AttachmentsDir)))
}

func TestMaterializeHeaderWriteFailure(t *testing.T) {
	fsys := failingFs{Fs: afero.NewMemMapFs(), failName: HeadersFile}

	res, err := NewWithFs(fsys, nil).Materialize(&model.Message{HTML: strPtr("<b>x</b>")}, "/out", 1)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], HeadersFile)
	assert.Equal(t, []string{HTMLBodyFile}, listDir(t, fsys, res.OutputDir))
}

func TestMaterializeOutputDirFailure(t *testing.T) {
	fsys := afero.NewReadOnlyFs(afero.NewMemMapFs())

	_, err := NewWithFs(fsys, nil).Materialize(&model.Message{}, "/out", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutputDir))
}

func TestMaterializeOnDisk(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "out")
	msg := &model.Message{
		PlainText:   strPtr("plain"),
		Attachments: []model.Attachment{{RawName: "a/b.txt", Content: []byte("ab")}},
	}

	res, err := New(nil).Materialize(msg, base, 1)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "email_1", AttachmentsDir, "a_b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
	assert.Equal(t, filepath.Join(base, "email_1"), res.OutputDir)
}
