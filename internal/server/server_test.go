package server_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/andresmejia3/cymatic/internal/frequency"
	"github.com/andresmejia3/cymatic/internal/registry"
	"github.com/andresmejia3/cymatic/internal/server"
	"github.com/andresmejia3/cymatic/internal/types"
)

func readMessage(conn *websocket.Conn) server.Message {
	GinkgoHelper()
	var msg server.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	Expect(conn.ReadJSON(&msg)).To(Succeed())
	return msg
}

// readUntil skips messages until one of type t arrives.
func readUntil(conn *websocket.Conn, t string) server.Message {
	GinkgoHelper()
	for {
		msg := readMessage(conn)
		if msg.Type == t {
			return msg
		}
	}
}

var _ = Describe("Server", func() {
	var (
		reg     *registry.Registry
		coord   *frequency.Coordinator
		srv     *server.Server
		ts      *httptest.Server
		mu      sync.Mutex
		changed []string
	)

	dial := func() *websocket.Conn {
		GinkgoHelper()
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { conn.Close() })
		return conn
	}

	BeforeEach(func() {
		var err error
		reg, err = registry.New(registry.Config{
			Frequencies: frequency.GeneratorFunc(func() float64 { return 330 }),
		})
		Expect(err).NotTo(HaveOccurred())
		coord = frequency.NewCoordinator(reg)

		mu.Lock()
		changed = nil
		mu.Unlock()

		srv = server.New(server.Config{
			Registry: reg,
			OnChange: func(id string) {
				mu.Lock()
				defer mu.Unlock()
				changed = append(changed, id)
			},
		})
		ts = httptest.NewServer(srv.Handler())
		DeferCleanup(ts.Close)
		DeferCleanup(srv.Shutdown, context.Background())
	})

	It("serves the UI page", func() {
		resp, err := http.Get(ts.URL + "/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("/ws"))

		resp, err = http.Get(ts.URL + "/nope")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("sends the current view on connect", func() {
		reg.Resolve(types.Descriptor{0, 0}, []byte("jpeg"))
		conn := dial()

		msg := readMessage(conn)
		Expect(msg.Type).To(Equal(server.TypeView))
		Expect(msg.View.Faces).To(HaveLen(1))
		Expect(msg.View.Faces[0].Screenshot).To(Equal([]byte("jpeg")))
	})

	It("pushes results and highlights the current match", func() {
		conn := dial()
		readUntil(conn, server.TypeView)
		Eventually(srv.Clients).Should(Equal(1))

		out := reg.Resolve(types.Descriptor{0, 0}, nil)
		srv.Notify(coord.Publish(out))

		result := readUntil(conn, server.TypeResult)
		Expect(*result.Result.IdentityID).To(Equal(out.ID))
		Expect(*result.Result.Frequency).To(Equal(330.0))

		view := readUntil(conn, server.TypeView)
		Expect(view.View.CurrentID).To(Equal(out.ID))
	})

	It("toggles conversion on request and broadcasts the new view", func() {
		out := reg.Resolve(types.Descriptor{0, 0}, nil)
		conn := dial()
		readUntil(conn, server.TypeView)

		Expect(conn.WriteJSON(server.Action{Action: server.ActionToggle, ID: out.ID})).To(Succeed())
		view := readUntil(conn, server.TypeView)
		Expect(view.View.Faces[0].Converted).To(BeTrue())

		face, _ := reg.Get(out.ID)
		Expect(face.Converted).To(BeTrue())
		Expect(face.Frequency).To(Equal(330.0))

		mu.Lock()
		defer mu.Unlock()
		Expect(changed).To(Equal([]string{out.ID}))
	})

	It("deletes on request", func() {
		out := reg.Resolve(types.Descriptor{0, 0}, nil)
		conn := dial()
		readUntil(conn, server.TypeView)

		Expect(conn.WriteJSON(server.Action{Action: server.ActionDelete, ID: out.ID})).To(Succeed())
		view := readUntil(conn, server.TypeView)
		Expect(view.View.Faces).To(BeEmpty())
		Expect(reg.Len()).To(BeZero())
	})

	It("ignores actions on absent ids without broadcasting", func() {
		conn := dial()
		readUntil(conn, server.TypeView)

		Expect(conn.WriteJSON(server.Action{Action: server.ActionToggle, ID: "ghost"})).To(Succeed())
		Expect(conn.WriteJSON(server.Action{Action: server.ActionView})).To(Succeed())

		// The next frame is the reply to "view", not a broadcast caused by the toggle.
		msg := readMessage(conn)
		Expect(msg.Type).To(Equal(server.TypeView))

		mu.Lock()
		defer mu.Unlock()
		Expect(changed).To(BeEmpty())
	})

	It("reports unknown actions", func() {
		conn := dial()
		readUntil(conn, server.TypeView)

		Expect(conn.WriteJSON(server.Action{Action: "rename"})).To(Succeed())
		msg := readUntil(conn, server.TypeError)
		Expect(msg.Error).To(ContainSubstring("rename"))
	})

	It("forgets clients that disconnect", func() {
		conn := dial()
		readUntil(conn, server.TypeView)
		Eventually(srv.Clients).Should(Equal(1))

		conn.Close()
		Eventually(srv.Clients).Should(BeZero())

		// Broadcasting with no clients is harmless.
		srv.Notify(types.Published{Outcome: "matched"})
	})
})
