// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/danielhkuo/nutriflow/models"
	"github.com/danielhkuo/nutriflow/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uploadRequest builds a multipart upload with a single file part
func uploadRequest(t *testing.T, fileName, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/clients/x/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("id", testutil.ClientID)
	return testutil.AsDietitian(req, testutil.DietitianID)
}

func expectClientExists(mock sqlmock.Sqlmock, exists bool) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(testutil.ClientID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestUploadDocument(t *testing.T) {
	t.Run("stores object and row", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		storage := newFakeStorage()
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
		expectClientExists(mock, true)
		mock.ExpectExec("INSERT INTO documents").
			WithArgs(sqlmock.AnyArg(), testutil.DietitianID, testutil.ClientID, "labs.pdf", "application/pdf",
				11, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, `C:\scans\labs.pdf`, "application/pdf", []byte("%PDF-1.7 ok")))

		testutil.AssertStatus(t, w, http.StatusCreated)
		var doc models.Document
		testutil.AssertJSON(t, w, &doc)
		assert.Equal(t, "labs.pdf", doc.FileName)
		assert.False(t, doc.SharedWithClient)

		want := testutil.DietitianID + "/" + testutil.ClientID + "/" + doc.ID + "/labs.pdf"
		assert.Equal(t, []byte("%PDF-1.7 ok"), storage.objects[want])
	})

	t.Run("too large", func(t *testing.T) {
		db, _ := testutil.NewMockDB(t)
		storage := newFakeStorage()
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)

		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "big.pdf", "application/pdf", make([]byte, models.MaxDocumentSize+1<<20)))

		testutil.AssertError(t, w, http.StatusRequestEntityTooLarge, "10 MiB")
		assert.Empty(t, storage.objects)
	})

	t.Run("unsupported type", func(t *testing.T) {
		db, _ := testutil.NewMockDB(t)
		h := NewDocumentHandler(db, testutil.GetTestConfig(), newFakeStorage())
		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "run.exe", "application/x-msdownload", []byte("MZ")))
		testutil.AssertError(t, w, http.StatusBadRequest, "Unsupported file type")
	})

	t.Run("empty file", func(t *testing.T) {
		db, _ := testutil.NewMockDB(t)
		h := NewDocumentHandler(db, testutil.GetTestConfig(), newFakeStorage())
		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "notes.txt", "text/plain", nil))
		testutil.AssertError(t, w, http.StatusBadRequest, "empty")
	})

	t.Run("not a multipart form", func(t *testing.T) {
		db, _ := testutil.NewMockDB(t)
		h := NewDocumentHandler(db, testutil.GetTestConfig(), newFakeStorage())
		w := httptest.NewRecorder()
		h.UploadDocument(w, dietitianRequest("POST", "/", `{"file":"x"}`, "id", testutil.ClientID))
		testutil.AssertStatus(t, w, http.StatusBadRequest)
	})

	t.Run("client of another dietitian", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		storage := newFakeStorage()
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
		expectClientExists(mock, false)

		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "labs.pdf", "application/pdf", []byte("x")))

		testutil.AssertStatus(t, w, http.StatusNotFound)
		assert.Empty(t, storage.objects)
	})

	t.Run("storage down", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		storage := newFakeStorage()
		storage.failPut = true
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
		expectClientExists(mock, true)

		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "labs.pdf", "application/pdf", []byte("x")))
		testutil.AssertStatus(t, w, http.StatusBadGateway)
	})

	t.Run("row insert fails", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		storage := newFakeStorage()
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
		expectClientExists(mock, true)
		mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("disk full"))

		w := httptest.NewRecorder()
		h.UploadDocument(w, uploadRequest(t, "labs.pdf", "application/pdf", []byte("x")))

		testutil.AssertStatus(t, w, http.StatusInternalServerError)
		require.Len(t, storage.removed, 1)
		assert.True(t, strings.HasSuffix(storage.removed[0], "/labs.pdf"))
	})
}

func TestDownloadDocument(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	storage := newFakeStorage()
	h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
	mock.ExpectQuery("FROM documents WHERE id").
		WithArgs(testutil.ResourceID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows(documentCols).AddRow(documentRow(testutil.ResourceID, false)...))

	w := httptest.NewRecorder()
	h.DownloadDocument(w, dietitianRequest("GET", "/", nil, "id", testutil.ResourceID))

	testutil.AssertStatus(t, w, http.StatusOK)
	var resp models.URLResponse
	testutil.AssertJSON(t, w, &resp)
	assert.Contains(t, resp.URL, "client-documents/"+testutil.DietitianID)
	assert.Equal(t, time.Hour, storage.signedTT)
}

func TestUpdateDocument_Share(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	h := NewDocumentHandler(db, testutil.GetTestConfig(), newFakeStorage())
	mock.ExpectQuery("UPDATE documents SET shared_with_client").
		WithArgs(true, testutil.ResourceID, testutil.DietitianID).
		WillReturnRows(sqlmock.NewRows(documentCols).AddRow(documentRow(testutil.ResourceID, true)...))

	w := httptest.NewRecorder()
	h.UpdateDocument(w, dietitianRequest("PATCH", "/", `{"shared_with_client":true}`, "id", testutil.ResourceID))

	testutil.AssertStatus(t, w, http.StatusOK)
	var doc models.Document
	testutil.AssertJSON(t, w, &doc)
	assert.True(t, doc.SharedWithClient)
	assert.NotContains(t, w.Body.String(), "storage_path")
}

func TestDeleteDocument(t *testing.T) {
	t.Run("removes object", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		storage := newFakeStorage()
		h := NewDocumentHandler(db, testutil.GetTestConfig(), storage)
		mock.ExpectQuery("DELETE FROM documents").
			WithArgs(testutil.ResourceID, testutil.DietitianID).
			WillReturnRows(sqlmock.NewRows([]string{"storage_path"}).AddRow("a/b/c/labs.pdf"))

		w := httptest.NewRecorder()
		h.DeleteDocument(w, dietitianRequest("DELETE", "/", nil, "id", testutil.ResourceID))

		testutil.AssertStatus(t, w, http.StatusOK)
		assert.Equal(t, []string{"a/b/c/labs.pdf"}, storage.removed)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := testutil.NewMockDB(t)
		h := NewDocumentHandler(db, testutil.GetTestConfig(), newFakeStorage())
		mock.ExpectQuery("DELETE FROM documents").WillReturnRows(sqlmock.NewRows([]string{"storage_path"}))

		w := httptest.NewRecorder()
		h.DeleteDocument(w, dietitianRequest("DELETE", "/", nil, "id", testutil.ResourceID))
		testutil.AssertStatus(t, w, http.StatusNotFound)
	})
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"labs.pdf":              "labs.pdf",
		"../../etc/passwd":      "passwd",
		`C:\Users\me\diet.docx`: "diet.docx",
		"what?.txt":             "what.txt",
		"..":                    "document",
		"":                      "document",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanFileName(in), "input %q", in)
	}
}
