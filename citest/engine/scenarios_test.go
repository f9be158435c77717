package engine_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sessionkit/sessionkit/internal/server"
	"github.com/sessionkit/sessionkit/pkg/types"
)

var _ = Describe("Session lifecycle", func() {
	It("creates a pending chat session and drives it to a reply", func() {
		snap := createSession(server.CreateSessionRequest{Kind: types.KindChat})
		Expect(snap.Status).To(Equal(types.StatusPending))

		code, err := postJSON("/session/"+snap.ID+"/start", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))

		reply, code := sendMessage(snap.ID, "hello engine")
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply).To(Equal("You said: hello engine"))
	})

	It("rejects messages before start", func() {
		snap := createSession(server.CreateSessionRequest{Kind: types.KindChat})

		_, code := sendMessage(snap.ID, "too early")
		Expect(code).To(Equal(http.StatusConflict))
	})

	It("cancels a pending session cleanly", func() {
		// A session that is cancelled before it ever starts still settles
		// into a cancelled result.
		snap := createSession(server.CreateSessionRequest{Kind: types.KindChat})

		var res types.Result
		code, err := postJSON("/session/"+snap.ID+"/cancel", nil, &res)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(res.Status).To(Equal(types.StatusCancelled))
		Expect(res.Error).To(BeEmpty())

		// Terminal states are absorbing: a start after cancel conflicts.
		code, err = postJSON("/session/"+snap.ID+"/start", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusConflict))
	})
})

var _ = Describe("Workflow sessions", func() {
	It("interpolates variables and completes", func() {
		snap := createSession(server.CreateSessionRequest{
			Kind: types.KindWorkflow,
			Workflow: &types.WorkflowDocument{
				Steps: []types.Step{{ID: "analyze", Prompt: "analyze {{data}}"}},
			},
			Variables: map[string]any{"data": "X"},
			Start:     true,
		})

		var res types.Result
		code, err := getJSON("/session/"+snap.ID+"/wait", &res)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(res.Status).To(Equal(types.StatusCompleted))
		Expect(res.Output).To(ContainSubstring("analyze X"))
	})

	It("runs manually-continued workflows step by step", func() {
		autoContinue := false
		snap := createSession(server.CreateSessionRequest{
			Kind: types.KindWorkflow,
			Workflow: &types.WorkflowDocument{
				Options: &types.WorkflowOptions{AutoContinue: &autoContinue},
				Steps: []types.Step{
					{ID: "draft", Prompt: "draft it"},
					{ID: "polish", Prompt: "polish it"},
				},
			},
			Start: true,
		})

		Eventually(func() int {
			var got types.Snapshot
			_, err := getJSON("/session/"+snap.ID, &got)
			Expect(err).NotTo(HaveOccurred())
			return len(got.StepResults)
		}).Should(Equal(1))

		code, err := postJSON("/session/"+snap.ID+"/continue", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))

		var res types.Result
		code, err = getJSON("/session/"+snap.ID+"/wait", &res)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(res.Status).To(Equal(types.StatusCompleted))
		Expect(res.Output).To(ContainSubstring("draft it"))
		Expect(res.Output).To(ContainSubstring("polish it"))
	})
})

var _ = Describe("Tool sessions", func() {
	newToolSession := func() types.Snapshot {
		GinkgoHelper()
		snap := createSession(server.CreateSessionRequest{Kind: types.KindTool, Start: true})

		// Wait for the readiness announcement so the first message can't
		// race the session's startup.
		Eventually(func() int {
			var got types.Snapshot
			_, err := getJSON("/session/"+snap.ID, &got)
			Expect(err).NotTo(HaveOccurred())
			return len(got.Messages)
		}).Should(BeNumerically(">=", 1))
		return snap
	}

	It("dispatches a well-formed tool call", func() {
		snap := newToolSession()

		reply, code := sendMessage(snap.ID, "@calculate(expression=2+2)")
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply).To(ContainSubstring("succeeded"))
		Expect(reply).To(ContainSubstring("4"))
	})

	It("answers unknown tools with the registered list", func() {
		snap := newToolSession()

		reply, code := sendMessage(snap.ID, "@ghost()")
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply).To(ContainSubstring("Unknown tool"))
		Expect(reply).To(ContainSubstring("calculate"))

		// The session survives the bad call.
		var got types.Snapshot
		_, err := getJSON("/session/"+snap.ID, &got)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(types.StatusRunning))
	})

	It("reports tool failures without ending the session", func() {
		snap := newToolSession()

		reply, code := sendMessage(snap.ID, "@calculate(expression=1/0)")
		Expect(code).To(Equal(http.StatusOK))
		Expect(reply).To(ContainSubstring("failed"))

		var got types.Snapshot
		_, err := getJSON("/session/"+snap.ID, &got)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(types.StatusRunning))
	})
})

var _ = Describe("Transcripts", func() {
	It("round-trips a session through export and import", func() {
		snap := createSession(server.CreateSessionRequest{Kind: types.KindChat, Start: true})
		_, code := sendMessage(snap.ID, "remember this")
		Expect(code).To(Equal(http.StatusOK))

		var transcript types.Transcript
		code, err := getJSON("/session/"+snap.ID+"/export", &transcript)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(transcript.Messages).To(HaveLen(2))

		var restored types.Snapshot
		code, err = postJSON("/session/import", transcript, &restored)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusCreated))
		Expect(restored.ID).NotTo(Equal(snap.ID))
		Expect(restored.Status).To(Equal(types.StatusPending))
		Expect(restored.Messages).To(HaveLen(2))
	})

	It("persists terminal sessions to history", func() {
		snap := createSession(server.CreateSessionRequest{Kind: types.KindChat, Start: true})
		_, code := sendMessage(snap.ID, "for the record")
		Expect(code).To(Equal(http.StatusOK))

		code, err := postJSON("/session/"+snap.ID+"/cancel", nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))

		var transcript types.Transcript
		code, err = getJSON("/history/"+snap.ID, &transcript)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(http.StatusOK))
		Expect(transcript.Metadata.SessionID).To(Equal(snap.ID))
		Expect(transcript.Messages).To(HaveLen(2))
	})
})
