package server_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentdeck/agentdeck/pkg/types"
)

var _ = Describe("SSE Event Stream", func() {
	Describe("GET /global/event", func() {
		It("should announce the connection first", func() {
			sse := testServer.SSEClient()
			defer sse.Close()

			Expect(sse.Connect(ctx, "/global/event")).To(Succeed())

			evt, err := sse.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(evt.Type).To(Equal("server.connected"))
		})

		It("should deliver session lifecycle events", func() {
			sse := testServer.SSEClient()
			defer sse.Close()

			Expect(sse.Connect(ctx, "/global/event")).To(Succeed())
			_, err := sse.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			session, err := client.CreateSession(ctx, "SSE Session")
			Expect(err).NotTo(HaveOccurred())
			defer client.Delete(ctx, "/session/"+session.ID)

			evt, err := sse.WaitForEvent("session.created", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			info, err := evt.ParseSessionEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.ID).To(Equal(session.ID))
			Expect(info.Title).To(Equal("SSE Session"))
		})

		It("should stream message progress during a turn", func() {
			sse := testServer.SSEClient()
			defer sse.Close()

			Expect(sse.Connect(ctx, "/global/event")).To(Succeed())
			_, err := sse.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			session, err := client.CreateSession(ctx, "SSE Turn")
			Expect(err).NotTo(HaveOccurred())
			defer client.Delete(ctx, "/session/"+session.ID)

			_, err = client.SendMessage(ctx, session.ID, "stream me")
			Expect(err).NotTo(HaveOccurred())

			created, err := sse.WaitForEvent("message.created", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			info, err := created.ParseMessageEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.SessionID).To(Equal(session.ID))

			updated, err := sse.WaitForEvent("message.updated", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			info, err = updated.ParseMessageEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.SessionID).To(Equal(session.ID))
			Expect(info.Role).To(Equal(types.RoleAssistant))

			Expect(client.WaitIdle(ctx, session.ID, 10*time.Second)).To(Succeed())
		})
	})

	Describe("GET /event", func() {
		It("should require a sessionID", func() {
			resp, err := client.Get(ctx, "/event")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})

		It("should only deliver events for the requested session", func() {
			mine, err := client.CreateSession(ctx, "Mine")
			Expect(err).NotTo(HaveOccurred())
			defer client.Delete(ctx, "/session/"+mine.ID)

			other, err := client.CreateSession(ctx, "Other")
			Expect(err).NotTo(HaveOccurred())
			defer client.Delete(ctx, "/session/"+other.ID)

			sse := testServer.SSEClient()
			defer sse.Close()

			Expect(sse.Connect(ctx, "/event?sessionID="+mine.ID)).To(Succeed())
			_, err = sse.WaitForEvent("server.connected", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Rename the other session, then mine. Only the second rename
			// should come through.
			_, err = client.Patch(ctx, "/session/"+other.ID, map[string]string{"title": "Other Renamed"})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Patch(ctx, "/session/"+mine.ID, map[string]string{"title": "Mine Renamed"})
			Expect(err).NotTo(HaveOccurred())

			evt, err := sse.WaitForEvent("session.updated", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			info, err := evt.ParseSessionEvent()
			Expect(err).NotTo(HaveOccurred())
			Expect(info.ID).To(Equal(mine.ID))
			Expect(info.Title).To(Equal("Mine Renamed"))
		})
	})
})
