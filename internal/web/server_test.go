package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/ocr-panel/internal/clipboard"
	"github.com/zombor/ocr-panel/internal/panel"
	"github.com/zombor/ocr-panel/internal/scanning"
)

type uploadPart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func multipartBody(parts ...uploadPart) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(p.data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return &b, writer.FormDataContentType()
}

func decodeState(resp *http.Response) panel.State {
	defer resp.Body.Close()
	var state panel.State
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, &state)).To(Succeed())
	return state
}

func decodeError(resp *http.Response) errorResponse {
	defer resp.Body.Close()
	var e errorResponse
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, &e)).To(Succeed())
	return e
}

var _ = Describe("Server", func() {
	var (
		scanner     *mockScanner
		clip        *clipboard.Memory
		sessions    *Sessions
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
		client      *http.Client
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(sessions, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(".*")
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions, http.MethodPut} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	}

	post := func(path string) *http.Response {
		resp, err := client.Post(ghttpServer.URL()+path, "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := client.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postJSON := func(path, body string) *http.Response {
		resp, err := client.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	del := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	upload := func(path string, parts ...uploadPart) *http.Response {
		body, contentType := multipartBody(parts...)
		resp, err := client.Post(ghttpServer.URL()+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	pngPart := func(name string) uploadPart {
		return uploadPart{field: "file", filename: name, contentType: "image/png", data: []byte("fake png data")}
	}

	BeforeEach(func() {
		scanner = &mockScanner{}
		clip = clipboard.NewMemory()
		sessions = NewSessions(newTestFactory(scanner, clip), time.Hour)
		auth = BasicAuth{}

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client = &http.Client{Jar: jar}

		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
		sessions.Close()
	})

	Describe("handleIndex", func() {
		It("should return HTML containing the page title", func() {
			resp := get("/")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Image to Text"))
		})

		It("should reject other methods", func() {
			resp := post("/")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("static assets", func() {
		It("should serve the script as JavaScript", func() {
			resp := get("/static/app.js")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/javascript"))
		})

		It("should serve the stylesheet", func() {
			resp := get("/static/app.css")
			resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/panel/file", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := get("/api/panel")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/panel", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "secret")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/panel", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("handleGetState", func() {
		It("should return an empty panel and set a session cookie", func() {
			resp := get("/api/panel")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(resp.Cookies()).To(ContainElement(HaveField("Name", sessionCookie)))

			state := decodeState(resp)
			Expect(state.File).To(BeNil())
			Expect(state.CanExtract).To(BeFalse())
			Expect(state.Toasts).To(BeEmpty())
		})

		It("should reuse the session across requests", func() {
			get("/api/panel").Body.Close()
			get("/api/panel").Body.Close()
			Expect(sessions.Len()).To(Equal(1))
		})
	})

	Describe("handleSelectFile", func() {
		When("the file is a valid PNG", func() {
			It("should select the file", func() {
				resp := upload("/api/panel/file", pngPart("scan.png"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				state := decodeState(resp)
				Expect(state.File.Name).To(Equal("scan.png"))
				Expect(state.File.ContentType).To(Equal("image/png"))
				Expect(state.CanExtract).To(BeTrue())
				Expect(state.Toasts).To(ContainElement(HaveField("Message", panel.MsgFileAccepted)))
			})

			It("should eventually expose the preview", func() {
				upload("/api/panel/file", pngPart("scan.png")).Body.Close()
				Eventually(func() string {
					return decodeState(get("/api/panel")).PreviewURL
				}).Should(HavePrefix("data:image/png;base64,"))
			})
		})

		When("the part has no specific content type", func() {
			It("should infer it from the extension", func() {
				resp := upload("/api/panel/file", uploadPart{field: "file", filename: "photo.JPG", contentType: "application/octet-stream", data: []byte("jpg")})
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeState(resp).File.ContentType).To(Equal("image/jpeg"))
			})
		})

		When("the file type is not allowed", func() {
			It("should return Bad Request with the unchanged state", func() {
				resp := upload("/api/panel/file", uploadPart{field: "file", filename: "doc.pdf", contentType: "application/pdf", data: []byte("%PDF")})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				e := decodeError(resp)
				Expect(e.Error).To(ContainSubstring("image/jpeg"))
				Expect(e.State.File).To(BeNil())
				Expect(e.State.Toasts).To(ContainElement(HaveField("Message", panel.MsgUnsupportedType)))
			})
		})

		When("the file is larger than 2MB", func() {
			It("should return Bad Request with a size toast", func() {
				big := bytes.Repeat([]byte{0xff}, panel.MaxFileSize+1)
				resp := upload("/api/panel/file", uploadPart{field: "file", filename: "big.png", contentType: "image/png", data: big})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				e := decodeError(resp)
				Expect(e.State.Toasts).To(ContainElement(HaveField("Message", panel.MsgFileTooLarge)))
			})
		})

		When("no file is provided", func() {
			It("should return Bad Request", func() {
				resp := upload("/api/panel/file")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp).Error).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				resp, err := client.Post(ghttpServer.URL()+"/api/panel/file", "text/plain", strings.NewReader("hello"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleDrop", func() {
		It("should use only the first file", func() {
			resp := upload("/api/panel/drop",
				uploadPart{field: "files", filename: "first.png", contentType: "image/png", data: []byte("1")},
				uploadPart{field: "files", filename: "second.png", contentType: "image/png", data: []byte("2")},
			)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			state := decodeState(resp)
			Expect(state.File.Name).To(Equal("first.png"))
			Expect(state.DragActive).To(BeFalse())
		})

		It("should only clear the drag flag when nothing was dropped", func() {
			post("/api/panel/dragover").Body.Close()
			resp := upload("/api/panel/drop")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			state := decodeState(resp)
			Expect(state.DragActive).To(BeFalse())
			Expect(state.File).To(BeNil())
		})
	})

	Describe("drag flag", func() {
		It("should follow dragover and dragleave", func() {
			Expect(decodeState(post("/api/panel/dragover")).DragActive).To(BeTrue())
			Expect(decodeState(post("/api/panel/dragleave")).DragActive).To(BeFalse())
		})
	})

	Describe("handleExtract", func() {
		When("no file is selected", func() {
			It("should return Conflict without calling the scanner", func() {
				resp := post("/api/panel/extract")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(scanner.callCount()).To(BeZero())
			})
		})

		When("a file is selected", func() {
			BeforeEach(func() {
				upload("/api/panel/file", pngPart("scan.png")).Body.Close()
			})

			It("should return the joined text", func() {
				scanner.fragments = []scanning.Fragment{{Text: "A"}, {Text: "B"}}
				resp := post("/api/panel/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				state := decodeState(resp)
				Expect(state.ExtractedText).To(Equal("A\nB"))
				Expect(state.Loading).To(BeFalse())
				Expect(state.CanCopy).To(BeTrue())
			})

			It("should report a format error", func() {
				scanner.err = fmt.Errorf("decoding: %w", scanning.ErrUnexpectedFormat)
				resp := post("/api/panel/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				e := decodeError(resp)
				Expect(e.Error).To(Equal(panel.MsgInvalidFormat))
				Expect(e.State.ExtractedText).To(BeEmpty())
			})

			It("should report a transport error", func() {
				scanner.err = errors.New("connection reset")
				resp := post("/api/panel/extract")
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				e := decodeError(resp)
				Expect(e.Error).To(Equal(panel.MsgExtractFailed))
				Expect(e.State.Loading).To(BeFalse())
				Expect(e.State.CanExtract).To(BeTrue())
			})
		})
	})

	Describe("handleCopy", func() {
		It("should return Conflict when there is nothing to copy", func() {
			resp := post("/api/panel/copy")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(clip.Text()).To(BeEmpty())
		})

		It("should copy the extracted text", func() {
			scanner.fragments = []scanning.Fragment{{Text: "hello"}}
			upload("/api/panel/file", pngPart("scan.png")).Body.Close()
			post("/api/panel/extract").Body.Close()

			resp := post("/api/panel/copy")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeState(resp).Toasts).To(ContainElement(HaveField("Message", panel.MsgCopied)))
			Expect(clip.Text()).To(Equal("hello"))
		})
	})

	Describe("handleCopy with a browser report", func() {
		BeforeEach(func() {
			sessions.Close()
			sessions = NewSessions(newTestFactory(scanner, nil), time.Hour)
			setupServer()

			scanner.fragments = []scanning.Fragment{{Text: "hello"}}
			upload("/api/panel/file", pngPart("scan.png")).Body.Close()
			post("/api/panel/extract").Body.Close()
		})

		It("should emit the success toast when the browser wrote the text", func() {
			resp := postJSON("/api/panel/copy", `{"ok": true}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeState(resp).Toasts).To(ContainElement(HaveField("Message", panel.MsgCopied)))
		})

		It("should report a failed browser write as an error", func() {
			resp := postJSON("/api/panel/copy", `{"ok": false, "error": "NotAllowedError: Document is not focused"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			e := decodeError(resp)
			Expect(e.Error).To(Equal(panel.MsgCopyFailed))
			Expect(e.State.Toasts).To(ContainElement(HaveField("Message", panel.MsgCopyFailed)))
			Expect(e.State.Toasts).NotTo(ContainElement(HaveField("Message", panel.MsgCopied)))
			Expect(e.State.ExtractedText).To(Equal("hello"))
		})

		It("should refuse a copy without a report", func() {
			resp := post("/api/panel/copy")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp).State.Toasts).NotTo(ContainElement(HaveField("Message", panel.MsgCopied)))
		})

		It("should reject a malformed report", func() {
			resp := postJSON("/api/panel/copy", `{"ok": "yes"`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("ServeHTTP", func() {
		It("should apply CORS headers to routed requests", func() {
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/panel", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleRemoveFile", func() {
		It("should clear the selection and text", func() {
			scanner.fragments = []scanning.Fragment{{Text: "hello"}}
			upload("/api/panel/file", pngPart("scan.png")).Body.Close()
			post("/api/panel/extract").Body.Close()

			resp := del("/api/panel/file")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			state := decodeState(resp)
			Expect(state.File).To(BeNil())
			Expect(state.PreviewURL).To(BeEmpty())
			Expect(state.ExtractedText).To(BeEmpty())
		})
	})

	Describe("handleDismissToast", func() {
		It("should remove the toast", func() {
			state := decodeState(upload("/api/panel/file", pngPart("scan.png")))
			Expect(state.Toasts).To(HaveLen(1))

			resp := del(fmt.Sprintf("/api/panel/toasts/%d", state.Toasts[0].ID))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeState(resp).Toasts).To(BeEmpty())
		})

		It("should return Not Found for unknown toasts", func() {
			resp := del("/api/panel/toasts/999")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return Bad Request for malformed IDs", func() {
			resp := del("/api/panel/toasts/abc")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleClose", func() {
		It("should release the session", func() {
			get("/api/panel").Body.Close()
			Expect(sessions.Len()).To(Equal(1))

			resp := post("/api/panel/close")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(sessions.Len()).To(BeZero())
		})
	})

	Describe("session isolation", func() {
		It("should keep separate clients apart", func() {
			upload("/api/panel/file", pngPart("mine.png")).Body.Close()

			other := &http.Client{}
			resp, err := other.Get(ghttpServer.URL() + "/api/panel")
			Expect(err).NotTo(HaveOccurred())
			Expect(decodeState(resp).File).To(BeNil())
		})
	})
})
