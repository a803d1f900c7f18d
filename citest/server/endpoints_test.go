package server_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentdeck/agentdeck/citest/testutil"
	"github.com/agentdeck/agentdeck/pkg/types"
)

var _ = Describe("Server Endpoints", func() {
	var session *types.Session

	BeforeEach(func() {
		var err error
		session, err = client.CreateSession(ctx, "Endpoint Test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if session != nil {
			client.Delete(ctx, "/session/"+session.ID)
		}
	})

	// ==================== Session Endpoints ====================
	Describe("Session Endpoints", func() {
		Describe("GET /session", func() {
			It("should list sessions", func() {
				resp, err := client.Get(ctx, "/session")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				var sessions []types.Session
				Expect(resp.JSON(&sessions)).To(Succeed())

				found := false
				for _, s := range sessions {
					if s.ID == session.ID {
						found = true
						break
					}
				}
				Expect(found).To(BeTrue())
			})
		})

		Describe("POST /session", func() {
			It("should create session with title", func() {
				newSession, err := client.CreateSession(ctx, "Custom Title")
				Expect(err).NotTo(HaveOccurred())
				Expect(newSession.ID).NotTo(BeEmpty())
				Expect(newSession.Title).To(Equal("Custom Title"))
				Expect(newSession.Busy).To(BeFalse())

				client.Delete(ctx, "/session/"+newSession.ID)
			})

			It("should default the title when none is given", func() {
				newSession, err := client.CreateSession(ctx, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(newSession.Title).To(Equal("New Session"))

				client.Delete(ctx, "/session/"+newSession.ID)
			})
		})

		Describe("GET /session/{sessionID}", func() {
			It("should retrieve session by ID", func() {
				retrieved, err := client.GetSession(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(retrieved.ID).To(Equal(session.ID))
			})

			It("should return 404 for non-existent session", func() {
				resp, err := client.Get(ctx, "/session/non-existent-id")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})
		})

		Describe("PATCH /session/{sessionID}", func() {
			It("should rename the session", func() {
				resp, err := client.Patch(ctx, "/session/"+session.ID, map[string]string{
					"title": "Updated Title",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				updated, err := client.GetSession(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(updated.Title).To(Equal("Updated Title"))
			})

			It("should reject an empty title", func() {
				resp, err := client.Patch(ctx, "/session/"+session.ID, map[string]string{
					"title": "",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(400))
			})
		})

		Describe("DELETE /session/{sessionID}", func() {
			It("should delete session", func() {
				newSession, err := client.CreateSession(ctx, "To Delete")
				Expect(err).NotTo(HaveOccurred())

				resp, err := client.Delete(ctx, "/session/"+newSession.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				resp, err = client.Get(ctx, "/session/"+newSession.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})
		})
	})

	// ==================== Message Endpoints ====================
	Describe("Message Endpoints", func() {
		Describe("POST /session/{sessionID}/message", func() {
			It("should run a turn to completion", func() {
				ack, err := client.SendMessage(ctx, session.ID, "hello engine")
				Expect(err).NotTo(HaveOccurred())
				Expect(ack.Queued).To(BeFalse())

				Expect(client.WaitIdle(ctx, session.ID, 10*time.Second)).To(Succeed())

				messages, err := client.GetMessages(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(len(messages)).To(Equal(2))
				Expect(messages[0].Role).To(Equal(types.RoleUser))
				Expect(messages[0].Content).To(Equal("hello engine"))
				Expect(messages[1].Role).To(Equal(types.RoleAssistant))
				Expect(messages[1].Content).To(Equal("echo: hello engine"))
				Expect(messages[1].Streaming).To(BeFalse())
				Expect(messages[1].Time.Completed).NotTo(BeNil())
			})

			It("should queue a prompt while the session is busy", func() {
				release := make(chan struct{})
				testServer.Engine.SetScript(func(req testutil.TurnRequest) []string {
					if req.Prompt == "slow" {
						<-release
					}
					return testutil.EchoScript(req)
				})
				defer testServer.Engine.SetScript(testutil.EchoScript)

				_, err := client.SendMessage(ctx, session.ID, "slow")
				Expect(err).NotTo(HaveOccurred())

				Eventually(func() bool {
					s, err := client.GetSession(ctx, session.ID)
					return err == nil && s.Busy
				}, 5*time.Second, 20*time.Millisecond).Should(BeTrue())

				ack, err := client.SendMessage(ctx, session.ID, "queued prompt")
				Expect(err).NotTo(HaveOccurred())
				Expect(ack.Queued).To(BeTrue())

				close(release)
				Expect(client.WaitIdle(ctx, session.ID, 10*time.Second)).To(Succeed())

				messages, err := client.GetMessages(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(len(messages)).To(Equal(4))
				Expect(messages[2].Content).To(Equal("queued prompt"))
				Expect(messages[3].Content).To(Equal("echo: queued prompt"))
			})

			It("should reject an empty prompt", func() {
				resp, err := client.Post(ctx, "/session/"+session.ID+"/message", map[string]string{
					"prompt": "",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(400))
			})

			It("should return 404 for an unknown session", func() {
				resp, err := client.Post(ctx, "/session/missing/message", map[string]string{
					"prompt": "hello",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})

			It("should forward the resume id on the second turn", func() {
				_, err := client.SendMessage(ctx, session.ID, "first")
				Expect(err).NotTo(HaveOccurred())
				Expect(client.WaitIdle(ctx, session.ID, 10*time.Second)).To(Succeed())

				_, err = client.SendMessage(ctx, session.ID, "second")
				Expect(err).NotTo(HaveOccurred())
				Expect(client.WaitIdle(ctx, session.ID, 10*time.Second)).To(Succeed())

				requests := testServer.Engine.Requests()
				Expect(len(requests)).To(BeNumerically(">=", 2))
				last := requests[len(requests)-1]
				Expect(last.Prompt).To(Equal("second"))
				Expect(last.ResumeID).To(Equal("agent-fake"))
			})
		})

		Describe("GET /session/{sessionID}/message", func() {
			It("should return an empty array for a fresh session", func() {
				messages, err := client.GetMessages(ctx, session.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(messages).To(BeEmpty())
			})
		})

		Describe("POST /session/{sessionID}/abort", func() {
			It("should return 404 for an unknown session", func() {
				resp, err := client.Post(ctx, "/session/missing/abort", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})

			It("should succeed on an idle session", func() {
				resp, err := client.Post(ctx, "/session/"+session.ID+"/abort", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())
			})
		})

		Describe("GET /session/{sessionID}/queue", func() {
			It("should report an empty queue on an idle session", func() {
				resp, err := client.Get(ctx, "/session/"+session.ID+"/queue")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				var queue struct {
					SessionID string `json:"sessionID"`
					Length    int    `json:"length"`
					Busy      bool   `json:"busy"`
				}
				Expect(resp.JSON(&queue)).To(Succeed())
				Expect(queue.SessionID).To(Equal(session.ID))
				Expect(queue.Length).To(Equal(0))
				Expect(queue.Busy).To(BeFalse())
			})
		})
	})

	// ==================== File Endpoints ====================
	Describe("File Endpoints", func() {
		BeforeEach(func() {
			path := filepath.Join(testServer.WorkDir, "readme.md")
			Expect(os.WriteFile(path, []byte("# agentdeck\n"), 0o644)).To(Succeed())
		})

		Describe("GET /file", func() {
			It("should list the workspace root", func() {
				resp, err := client.Get(ctx, "/file")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				var entries []struct {
					Name string `json:"name"`
					Dir  bool   `json:"dir"`
				}
				Expect(resp.JSON(&entries)).To(Succeed())

				names := make([]string, 0, len(entries))
				for _, e := range entries {
					names = append(names, e.Name)
				}
				Expect(names).To(ContainElement("readme.md"))
			})
		})

		Describe("GET /file/content", func() {
			It("should read a file", func() {
				resp, err := client.Get(ctx, "/file/content?path=readme.md")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				var content struct {
					Path    string `json:"path"`
					Content string `json:"content"`
				}
				Expect(resp.JSON(&content)).To(Succeed())
				Expect(content.Content).To(Equal("# agentdeck\n"))
			})

			It("should return 404 for a missing file", func() {
				resp, err := client.Get(ctx, "/file/content?path=missing.txt")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})

			It("should reject a path escaping the workspace", func() {
				resp, err := client.Get(ctx, "/file/content?path=../../etc/passwd")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(404))
			})
		})

		Describe("GET /find/file", func() {
			It("should rank the closest file name first", func() {
				resp, err := client.Get(ctx, "/find/file?query=readme")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())

				var matches []struct {
					Path string `json:"path"`
				}
				Expect(resp.JSON(&matches)).To(Succeed())
				Expect(matches).NotTo(BeEmpty())
				Expect(matches[0].Path).To(Equal("readme.md"))
			})

			It("should require a query", func() {
				resp, err := client.Get(ctx, "/find/file")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(400))
			})
		})
	})

	// ==================== Shell Endpoint ====================
	Describe("POST /shell", func() {
		It("should run a command and capture its output", func() {
			resp, err := client.Post(ctx, "/shell", map[string]string{
				"command": "echo hello",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var result struct {
				Output   string `json:"output"`
				ExitCode int    `json:"exitCode"`
				TimedOut bool   `json:"timedOut"`
			}
			Expect(resp.JSON(&result)).To(Succeed())
			Expect(result.Output).To(ContainSubstring("hello"))
			Expect(result.ExitCode).To(Equal(0))
			Expect(result.TimedOut).To(BeFalse())
		})

		It("should report a non-zero exit status without an HTTP error", func() {
			resp, err := client.Post(ctx, "/shell", map[string]string{
				"command": "exit 3",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())

			var result struct {
				ExitCode int `json:"exitCode"`
			}
			Expect(resp.JSON(&result)).To(Succeed())
			Expect(result.ExitCode).To(Equal(3))
		})

		It("should reject invalid shell syntax", func() {
			resp, err := client.Post(ctx, "/shell", map[string]string{
				"command": "echo 'unterminated",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(400))
		})
	})

	// ==================== Attachment Endpoints ====================
	Describe("Attachment Endpoints", func() {
		uploadOne := func(name, content string) []types.Attachment {
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			part, err := writer.CreateFormFile("files", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte(content))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, client.BaseURL+"/attachment", &body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())

			resp, err := client.HTTPClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var attachments []types.Attachment
			Expect(decodeBody(resp.Body, &attachments)).To(Succeed())
			return attachments
		}

		It("should upload and download an attachment", func() {
			attachments := uploadOne("notes.txt", "attachment body")
			Expect(attachments).To(HaveLen(1))
			Expect(attachments[0].Name).To(Equal("notes.txt"))
			Expect(attachments[0].Path).NotTo(BeEmpty())

			resp, err := client.Get(ctx, "/attachment/content?path="+attachments[0].Path)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.IsSuccess()).To(BeTrue())
			Expect(resp.String()).To(Equal("attachment body"))
		})

		It("should return 404 for an unknown attachment", func() {
			resp, err := client.Get(ctx, "/attachment/content?path=nope/missing.txt")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(404))
		})
	})
})
