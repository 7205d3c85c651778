package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/splitbill/internal/parser"
)

var _ = Describe("Server", func() {
	var (
		recognizer  *mockRecognizer
		service     *Service
		server      *Server
		auth        BasicAuth
		registry    *prometheus.Registry
		ghttpServer *ghttp.Server
		sessionURL  string
	)

	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	upload := func(filename string, data []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+sessionURL+"/image", &buf)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	JustBeforeEach(func() {
		registry = prometheus.NewRegistry()
		service = NewServiceWithDeps(newMockKV(), recognizer, parser.MustNew(parser.DefaultLocale()), newMockStorage(),
			NewMetrics(registry), Options{}, &mockIDGenerator{}, &mockTimeSource{now: time.Unix(0, 0)})
		server = NewServerWithMux(service, auth, registry, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(".*")
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
		sessionURL = "/api/sessions/00000000-0000-0000-0000-000000000001"
	})

	BeforeEach(func() {
		recognizer = &mockRecognizer{text: "Pizza 12,50\nCola 3x 1,20\nОБЩА СУМА 16,10"}
		auth = BasicAuth{}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("POST /api/sessions", func() {
		It("should create a session", func() {
			resp := do(http.MethodPost, "/api/sessions", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))

			body := decode(resp)
			Expect(body["id"]).To(Equal("00000000-0000-0000-0000-000000000001"))
			Expect(body["step"]).To(Equal("upload"))
			Expect(body["items"]).To(BeEmpty())
			Expect(body["total"]).To(Equal("0.00"))
		})
	})

	Describe("GET /api/sessions/{id}", func() {
		It("should reject a malformed id", func() {
			resp := do(http.MethodGet, "/api/sessions/nope", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decode(resp)["error"]).To(ContainSubstring("session not found"))
		})
	})

	Describe("the full flow", func() {
		It("should split the sample receipt", func() {
			resp := upload("receipt.jpg", []byte("jpeg"))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(decode(resp)["image"]).To(HaveKeyWithValue("contentType", "image/jpeg"))

			resp = do(http.MethodPost, sessionURL+"/scan", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["step"]).To(Equal("items"))
			Expect(body["items"]).To(HaveLen(2))
			Expect(body["total"]).To(Equal("16.10"))

			resp = do(http.MethodPost, sessionURL+"/next", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["step"]).To(Equal("people"))

			resp = do(http.MethodPost, sessionURL+"/next", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(resp)["error"]).To(Equal("add at least one person before continuing"))

			resp = do(http.MethodPost, sessionURL+"/people", map[string]string{"name": "A"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
			resp = do(http.MethodPost, sessionURL+"/people", map[string]string{"name": "B"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp = do(http.MethodPost, sessionURL+"/next", nil)
			Expect(decode(resp)["step"]).To(Equal("assign"))

			resp = do(http.MethodPost, sessionURL+"/assignments/1/toggle/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
			resp = do(http.MethodPut, sessionURL+"/assignments/2", map[string][]int{"personIds": {1, 2}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body = decode(resp)
			Expect(body["assignments"]).To(HaveKeyWithValue("2", ConsistOf(1.0, 2.0)))
			Expect(body["items"].([]any)[1]).To(HaveKeyWithValue("share", "1.80"))

			resp = do(http.MethodPost, sessionURL+"/next", nil)
			Expect(decode(resp)["step"]).To(Equal("summary"))

			resp = do(http.MethodGet, sessionURL+"/summary", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body = decode(resp)
			Expect(body["total"]).To(Equal("16.10"))
			Expect(body["shares"]).To(HaveLen(2))
			Expect(body["shares"].([]any)[0]).To(HaveKeyWithValue("display", "14.30 €"))

			resp = do(http.MethodGet, sessionURL+"/export", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))
			text, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(text)).To(Equal("A: 14.30 €\nB: 1.80 €"))
		})
	})

	Describe("items", func() {
		JustBeforeEach(func() {
			resp := do(http.MethodPost, sessionURL+"/skip", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})

		It("should edit, duplicate and remove items", func() {
			resp := do(http.MethodPatch, sessionURL+"/items/1", map[string]any{"label": "Вода", "price": "1,50", "qty": 2})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["total"]).To(Equal("3.00"))

			resp = do(http.MethodPost, sessionURL+"/items/1/duplicate", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			items := decode(resp)["items"].([]any)
			Expect(items).To(HaveLen(2))
			Expect(items[1]).To(HaveKeyWithValue("qty", 1.0))

			resp = do(http.MethodDelete, sessionURL+"/items/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["items"]).To(HaveLen(1))
		})

		It("should reject a bad quantity", func() {
			resp := do(http.MethodPatch, sessionURL+"/items/1", map[string]any{"qty": 0})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should report unknown items", func() {
			resp := do(http.MethodDelete, sessionURL+"/items/42", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should reject a non-numeric id", func() {
			resp := do(http.MethodDelete, sessionURL+"/items/abc", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should refuse to leave items without a price", func() {
			resp := do(http.MethodPost, sessionURL+"/next", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(resp)["error"]).To(Equal("add at least one item with a price before continuing"))
		})

		It("should add a blank item", func() {
			resp := do(http.MethodPost, sessionURL+"/items", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			Expect(decode(resp)["items"]).To(HaveLen(2))
		})
	})

	Describe("people", func() {
		It("should reject a blank name", func() {
			resp := do(http.MethodPost, sessionURL+"/people", map[string]string{"name": "  "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should reject a malformed body", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+sessionURL+"/people", bytes.NewBufferString("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should remove a person", func() {
			resp := do(http.MethodPost, sessionURL+"/people", map[string]string{"name": "Ана"})
			resp.Body.Close()
			resp = do(http.MethodDelete, sessionURL+"/people/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["people"]).To(BeEmpty())
		})
	})

	Describe("PUT /step", func() {
		It("should jump back and refuse to jump ahead", func() {
			resp := do(http.MethodPost, sessionURL+"/skip", nil)
			resp.Body.Close()

			resp = do(http.MethodPut, sessionURL+"/step", map[string]string{"step": "people"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()

			resp = do(http.MethodPut, sessionURL+"/step", map[string]string{"step": "upload"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["step"]).To(Equal("upload"))

			resp = do(http.MethodPut, sessionURL+"/step", map[string]string{"step": "teleport"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should return to a step already reached", func() {
			resp := do(http.MethodPost, sessionURL+"/skip", nil)
			resp.Body.Close()

			resp = do(http.MethodPut, sessionURL+"/step", map[string]string{"step": "upload"})
			resp.Body.Close()

			resp = do(http.MethodPut, sessionURL+"/step", map[string]string{"step": "items"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["step"]).To(Equal("items"))
		})
	})

	Describe("images", func() {
		It("should serve the uploaded photo back", func() {
			resp := upload("photo.png", []byte("png-bytes"))
			resp.Body.Close()

			resp = do(http.MethodGet, sessionURL+"/image", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png-bytes")))

			resp = do(http.MethodDelete, sessionURL+"/image", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["image"]).To(BeNil())
		})

		It("should need a file", func() {
			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			Expect(mw.WriteField("other", "x")).To(Succeed())
			Expect(mw.Close()).To(Succeed())
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+sessionURL+"/image", &buf)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", mw.FormDataContentType())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("should not scan without a photo", func() {
			resp := do(http.MethodPost, sessionURL+"/scan", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("DELETE /api/sessions/{id}", func() {
		It("should start a new bill", func() {
			resp := do(http.MethodPost, sessionURL+"/skip", nil)
			resp.Body.Close()

			resp = do(http.MethodDelete, sessionURL, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body := decode(resp)
			Expect(body["step"]).To(Equal("upload"))
			Expect(body["items"]).To(BeEmpty())
		})
	})

	Describe("GET /metrics", func() {
		It("should expose the collectors", func() {
			resp := do(http.MethodPost, "/api/sessions", nil)
			resp.Body.Close()

			resp = do(http.MethodGet, "/metrics", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("splitbill_sessions_created_total 1"))
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with CORS headers", func() {
			resp := do(http.MethodOptions, sessionURL+"/items/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PATCH"))
			resp.Body.Close()
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("should reject requests without credentials", func() {
			resp := do(http.MethodPost, "/api/sessions", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("should accept the right credentials", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("should reject the wrong password", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/sessions", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "nope")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})
	})
})
